package suggestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/hr"
	"github.com/warp/insurance-engine/profile"
)

// Ledger is the part of *profile.Ledger the engine uses.
type Ledger interface {
	ListCurrent(ctx context.Context) ([]profile.Profile, error)
	GetCurrent(ctx context.Context, employee generic.EmployeeID) (*profile.Profile, error)
	History(ctx context.Context, employee generic.EmployeeID) ([]profile.Profile, error)
	ApplyChange(ctx context.Context, in profile.ChangeInput) (*profile.Profile, error)
}

// AppendixSource is the part of hr.ContractSource the engine uses.
type AppendixSource interface {
	GetAppendix(ctx context.Context, id generic.DocumentID) (*hr.Appendix, error)
}

type Engine struct {
	store      Store
	ledger     Ledger
	appendices AppendixSource
	publisher  generic.Publisher
	clock      generic.Clock
	log        logrus.FieldLogger
	policy     Policy

	scanMu sync.Mutex
}

type Option func(*Engine)

func WithPolicy(p Policy) Option                { return func(e *Engine) { e.policy = p } }
func WithPublisher(p generic.Publisher) Option { return func(e *Engine) { e.publisher = p } }
func WithClock(c generic.Clock) Option         { return func(e *Engine) { e.clock = c } }
func WithLogger(l logrus.FieldLogger) Option   { return func(e *Engine) { e.log = l } }

func NewEngine(store Store, ledger Ledger, appendices AppendixSource, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		ledger:     ledger,
		appendices: appendices,
		publisher:  generic.NopPublisher{},
		clock:      generic.SystemClock{},
		log:        logrus.StandardLogger(),
		policy:     DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.WithField("component", "suggestion")
	return e
}

// =============================================================================
// SCAN / SWEEP
// =============================================================================

// ScanResult summarizes one scan.
type ScanResult struct {
	Created  []Suggestion
	Eligible int
	Skipped  int
}

// Scan creates a suggestion for every employee eligible on today's date
// that has no open suggestion. Re-running it creates nothing new.
func (e *Engine) Scan(ctx context.Context) (*ScanResult, error) {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()

	now := e.clock.Now()
	today := generic.DateOf(now)

	current, err := e.ledger.ListCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("list current profiles: %w", err)
	}

	result := &ScanResult{}
	for _, p := range current {
		if p.Grade >= e.policy.MaxGrade {
			continue
		}
		since, err := e.gradeSince(ctx, p)
		if err != nil {
			return result, err
		}
		tenure, ok := e.eligible(since, today)
		if !ok {
			continue
		}
		result.Eligible++

		existing, err := e.store.ForEmployee(ctx, p.EmployeeID)
		if err != nil {
			return result, err
		}
		if hasOpen(existing, p.Grade) {
			result.Skipped++
			continue
		}

		s := Suggestion{
			ID:             generic.NewID("sugg"),
			EmployeeID:     p.EmployeeID,
			ProfileID:      p.ID,
			CurrentGrade:   p.Grade,
			SuggestedGrade: p.Grade + 1,
			TenureYears:    tenure,
			Status:         StatusPending,
			SuggestedAt:    now,
			ExpiresAt:      now.AddDate(0, 0, e.policy.TTLDays),
		}
		if err := e.store.Insert(ctx, s); err != nil {
			if errors.Is(err, generic.ErrDuplicate) {
				result.Skipped++
				continue
			}
			return result, err
		}
		result.Created = append(result.Created, s)
		e.publish(ctx, generic.EventSuggestionCreated, s, generic.SystemActor)
	}

	e.log.WithFields(logrus.Fields{
		"eligible": result.Eligible,
		"created":  len(result.Created),
		"skipped":  result.Skipped,
	}).Info("grade suggestion scan complete")
	return result, nil
}

func (e *Engine) eligible(since, today generic.Date) (int, bool) {
	tenure := generic.FullYearsBetween(since, today)
	return tenure, tenure >= e.policy.SeniorityYears
}

// gradeSince returns the start of the unbroken run of slices at the current
// grade. Position changes and adjustments that keep the grade do not reset it.
func (e *Engine) gradeSince(ctx context.Context, current profile.Profile) (generic.Date, error) {
	history, err := e.ledger.History(ctx, current.EmployeeID)
	if err != nil {
		return generic.Date{}, fmt.Errorf("profile history for %s: %w", current.EmployeeID, err)
	}
	since := current.Applied.From
	for i := len(history) - 1; i >= 0; i-- {
		h := history[i]
		if h.Applied.From.After(since) || h.ID == current.ID {
			continue
		}
		if h.Grade != current.Grade {
			break
		}
		since = h.Applied.From
	}
	return since, nil
}

func hasOpen(existing []Suggestion, grade generic.Grade) bool {
	for _, s := range existing {
		if s.isOpenFor(grade) {
			return true
		}
	}
	return false
}

// SweepExpired marks past-due PENDING suggestions EXPIRED.
func (e *Engine) SweepExpired(ctx context.Context) ([]Suggestion, error) {
	expired, err := e.store.ExpireDue(ctx, e.clock.Now())
	if err != nil {
		return nil, err
	}
	for _, s := range expired {
		e.publish(ctx, generic.EventSuggestionExpired, s, generic.SystemActor)
	}
	if len(expired) > 0 {
		e.log.WithField("expired", len(expired)).Info("grade suggestions expired")
	}
	return expired, nil
}

// =============================================================================
// DECISIONS
// =============================================================================

type ApproveInput struct {
	SuggestionID string
	AppendixID   generic.DocumentID
	Actor        string
}

// Approve accepts a PENDING suggestion and applies the grade change to the
// ledger effective on the appendix date. If the ledger rejects the change the
// suggestion is returned to PENDING.
func (e *Engine) Approve(ctx context.Context, in ApproveInput) (*Suggestion, *profile.Profile, error) {
	if in.AppendixID == "" {
		return nil, nil, &generic.ValidationError{Field: "appendix_id", Message: "is required"}
	}
	s, err := e.pending(ctx, in.SuggestionID, "approve suggestion")
	if err != nil {
		return nil, nil, err
	}

	appendix, err := e.appendices.GetAppendix(ctx, in.AppendixID)
	if err != nil {
		return nil, nil, err
	}
	if appendix == nil {
		return nil, nil, &generic.NotFoundError{Kind: "appendix", ID: string(in.AppendixID)}
	}
	if appendix.EmployeeID != s.EmployeeID {
		return nil, nil, &generic.ValidationError{Field: "appendix_id", Message: "appendix belongs to another employee"}
	}
	if appendix.Grade != nil && *appendix.Grade != s.SuggestedGrade {
		return nil, nil, &generic.ValidationError{
			Field:   "appendix_id",
			Message: fmt.Sprintf("appendix sets grade %d, suggestion proposes %d", *appendix.Grade, s.SuggestedGrade),
		}
	}

	current, err := e.ledger.GetCurrent(ctx, s.EmployeeID)
	if err != nil {
		return nil, nil, err
	}
	if current.Grade != s.CurrentGrade {
		return nil, nil, &generic.StateConflictError{
			Op:    "approve suggestion",
			State: fmt.Sprintf("employee grade is now %d, suggestion was made at %d", current.Grade, s.CurrentGrade),
		}
	}

	now := e.clock.Now()
	approved := *s
	approved.Status = StatusApproved
	approved.AppendixID = &appendix.ID
	approved.DecidedBy = in.Actor
	approved.DecidedAt = &now
	if err := e.compareAndSet(ctx, approved, StatusPending, "approve suggestion"); err != nil {
		return nil, nil, err
	}

	docID := appendix.ID
	p, err := e.ledger.ApplyChange(ctx, profile.ChangeInput{
		EmployeeID:     s.EmployeeID,
		Grade:          s.SuggestedGrade,
		Reason:         profile.ReasonSeniority,
		EffectiveDate:  appendix.EffectiveDate,
		SourceDocument: &docID,
		Actor:          in.Actor,
	})
	if err != nil {
		if _, cerr := e.store.CompareAndSet(ctx, *s, StatusApproved); cerr != nil {
			e.log.WithError(cerr).WithField("suggestion_id", s.ID).Error("restore suggestion after failed approval")
		}
		return nil, nil, err
	}

	e.log.WithFields(logrus.Fields{
		"suggestion_id": s.ID,
		"employee_id":   string(s.EmployeeID),
		"grade":         int(s.SuggestedGrade),
		"appendix_id":   string(appendix.ID),
	}).Info("grade suggestion approved")
	e.publish(ctx, generic.EventSuggestionApproved, approved, in.Actor)
	return &approved, p, nil
}

// Reject closes a PENDING suggestion with an optional note.
func (e *Engine) Reject(ctx context.Context, id, actor, note string) (*Suggestion, error) {
	s, err := e.pending(ctx, id, "reject suggestion")
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	rejected := *s
	rejected.Status = StatusRejected
	rejected.DecidedBy = actor
	rejected.DecidedAt = &now
	rejected.Note = note
	if err := e.compareAndSet(ctx, rejected, StatusPending, "reject suggestion"); err != nil {
		return nil, err
	}
	e.publish(ctx, generic.EventSuggestionRejected, rejected, actor)
	return &rejected, nil
}

// pending loads a suggestion that is still decidable. A PENDING suggestion
// whose window has closed is expired on the spot.
func (e *Engine) pending(ctx context.Context, id, op string) (*Suggestion, error) {
	s, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusPending {
		return nil, &generic.StateConflictError{Op: op, State: string(s.Status)}
	}
	if s.PastDue(e.clock.Now()) {
		expired := *s
		expired.Status = StatusExpired
		if ok, err := e.store.CompareAndSet(ctx, expired, StatusPending); err != nil {
			return nil, err
		} else if ok {
			e.publish(ctx, generic.EventSuggestionExpired, expired, generic.SystemActor)
		}
		return nil, &generic.StateConflictError{Op: op, State: string(StatusExpired)}
	}
	return s, nil
}

func (e *Engine) compareAndSet(ctx context.Context, next Suggestion, from Status, op string) error {
	if !from.CanTransition(next.Status) {
		return &generic.StateConflictError{Op: op, State: string(from)}
	}
	ok, err := e.store.CompareAndSet(ctx, next, from)
	if err != nil {
		return err
	}
	if !ok {
		latest, _ := e.store.Get(ctx, next.ID)
		state := "changed concurrently"
		if latest != nil {
			state = string(latest.Status)
		}
		return &generic.StateConflictError{Op: op, State: state}
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

func (e *Engine) Get(ctx context.Context, id string) (*Suggestion, error) {
	s, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, &generic.NotFoundError{Kind: "suggestion", ID: id}
	}
	return s, nil
}

func (e *Engine) List(ctx context.Context, status Status) ([]Suggestion, error) {
	if status != "" && !status.Valid() {
		return nil, &generic.ValidationError{Field: "status", Message: "unknown status " + string(status)}
	}
	return e.store.List(ctx, status)
}

func (e *Engine) publish(ctx context.Context, t generic.EventType, s Suggestion, actor string) {
	payload := map[string]any{
		"current_grade":   int(s.CurrentGrade),
		"suggested_grade": int(s.SuggestedGrade),
		"tenure_years":    s.TenureYears,
		"status":          string(s.Status),
		"expires_at":      s.ExpiresAt.Format(time.RFC3339),
	}
	if s.AppendixID != nil {
		payload["appendix_id"] = string(*s.AppendixID)
	}
	if s.Note != "" {
		payload["note"] = s.Note
	}
	ev := generic.NewEvent(t, "suggestion", s.ID, actor, payload)
	ev.EmployeeID = s.EmployeeID
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.log.WithError(err).WithField("suggestion_id", s.ID).Warn("publish suggestion event failed")
	}
}
