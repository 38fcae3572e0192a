package profile

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/warp/insurance-engine/generic"
)

// Ledger is the profile ledger service.
type Ledger struct {
	store     Store
	publisher generic.Publisher
	clock     generic.Clock
	log       logrus.FieldLogger

	locks sync.Map // generic.EmployeeID -> *sync.Mutex
}

type Option func(*Ledger)

func WithPublisher(p generic.Publisher) Option { return func(l *Ledger) { l.publisher = p } }
func WithClock(c generic.Clock) Option         { return func(l *Ledger) { l.clock = c } }
func WithLogger(lg logrus.FieldLogger) Option  { return func(l *Ledger) { l.log = lg } }

func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		publisher: generic.NopPublisher{},
		clock:     generic.SystemClock{},
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.WithField("component", "profile")
	return l
}

// =============================================================================
// READS
// =============================================================================

// GetCurrent returns the employee's open slice.
func (l *Ledger) GetCurrent(ctx context.Context, employee generic.EmployeeID) (*Profile, error) {
	p, err := l.store.Current(ctx, employee)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &generic.NotFoundError{Kind: "profile", ID: string(employee)}
	}
	return p, nil
}

// AsOf returns the slice covering date.
func (l *Ledger) AsOf(ctx context.Context, employee generic.EmployeeID, date generic.Date) (*Profile, error) {
	p, err := l.store.AsOf(ctx, employee, date)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &generic.NotFoundError{Kind: "profile", ID: fmt.Sprintf("%s@%s", employee, date)}
	}
	return p, nil
}

// History returns all slices ordered by AppliedFrom.
func (l *Ledger) History(ctx context.Context, employee generic.EmployeeID) ([]Profile, error) {
	return l.store.History(ctx, employee)
}

// ListCurrent returns every employee's current slice.
func (l *Ledger) ListCurrent(ctx context.Context) ([]Profile, error) {
	return l.store.ListCurrent(ctx)
}

// =============================================================================
// WRITES
// =============================================================================

// ApplyChange closes the current slice at EffectiveDate - 1 and opens a new
// current slice at EffectiveDate, atomically.
func (l *Ledger) ApplyChange(ctx context.Context, in ChangeInput) (*Profile, error) {
	if err := validateChange(in); err != nil {
		return nil, err
	}

	mu := l.lockFor(in.EmployeeID)
	mu.Lock()
	defer mu.Unlock()

	var created Profile
	var closed *Profile
	err := l.store.WithTx(ctx, func(tx Tx) error {
		current, err := tx.Current(ctx, in.EmployeeID)
		if err != nil {
			return err
		}

		next, err := nextSlice(current, in)
		if err != nil {
			return err
		}
		next.ID = generic.NewID("profile")
		next.CreatedAt = l.clock.Now()

		if current != nil {
			if err := tx.Close(ctx, current.ID, in.EffectiveDate.AddDays(-1)); err != nil {
				return err
			}
			c := *current
			c.Applied = c.Applied.Close(in.EffectiveDate)
			closed = &c
		}
		if err := tx.Insert(ctx, next); err != nil {
			return err
		}
		created = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	fields := logrus.Fields{
		"employee_id":  string(created.EmployeeID),
		"grade":        int(created.Grade),
		"position_id":  string(created.Position()),
		"applied_from": created.Applied.From.String(),
		"reason":       string(created.Reason),
	}
	if closed != nil {
		fields["closed_profile_id"] = closed.ID
	}
	l.log.WithFields(fields).Info("profile change applied")

	l.publish(ctx, created)
	return &created, nil
}

func validateChange(in ChangeInput) error {
	if in.EmployeeID == "" {
		return &generic.ValidationError{Field: "employee_id", Message: "is required"}
	}
	if !in.Reason.Valid() {
		return &generic.ValidationError{Field: "reason", Message: fmt.Sprintf("unknown reason %q", in.Reason)}
	}
	if in.Grade != 0 && !in.Grade.Valid() {
		return &generic.ValidationError{Field: "grade", Message: "must be between 1 and 7"}
	}
	if in.EffectiveDate.IsZero() {
		return &generic.ValidationError{Field: "effective_date", Message: "is required"}
	}
	return nil
}

// nextSlice derives the new slice from the current one, enforcing the
// ordering and first-slice rules.
func nextSlice(current *Profile, in ChangeInput) (Profile, error) {
	next := Profile{
		EmployeeID:     in.EmployeeID,
		Grade:          in.Grade,
		PositionID:     in.PositionID,
		Applied:        generic.OpenRange(in.EffectiveDate),
		Reason:         in.Reason,
		SourceDocument: in.SourceDocument,
		CreatedBy:      in.Actor,
	}
	if next.CreatedBy == "" {
		next.CreatedBy = generic.SystemActor
	}

	if current == nil {
		if !in.Reason.opensLedger() {
			return Profile{}, &generic.InvariantError{
				Op:      "apply profile change",
				Message: fmt.Sprintf("employee %s has no profile; first slice must be INITIAL or BACKFILL, got %s", in.EmployeeID, in.Reason),
			}
		}
		if next.Grade == 0 {
			next.Grade = generic.MinGrade
		}
		return next, nil
	}

	if in.Reason == ReasonInitial {
		return Profile{}, &generic.InvariantError{
			Op:      "apply profile change",
			Message: fmt.Sprintf("employee %s already has a current profile %s", in.EmployeeID, current.ID),
		}
	}
	if !in.EffectiveDate.After(current.Applied.From) {
		return Profile{}, &generic.InvariantError{
			Op: "apply profile change",
			Message: fmt.Sprintf("effective date %s must be after current slice start %s",
				in.EffectiveDate, current.Applied.From),
		}
	}
	if next.Grade == 0 {
		next.Grade = current.Grade
	}
	if next.PositionID == nil {
		next.PositionID = current.PositionID
	}
	return next, nil
}

func (l *Ledger) lockFor(employee generic.EmployeeID) *sync.Mutex {
	mu, _ := l.locks.LoadOrStore(employee, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (l *Ledger) publish(ctx context.Context, p Profile) {
	payload := map[string]any{
		"profile_id":   p.ID,
		"grade":        int(p.Grade),
		"position_id":  string(p.Position()),
		"applied_from": p.Applied.From.String(),
		"reason":       string(p.Reason),
	}
	if p.SourceDocument != nil {
		payload["source_document"] = string(*p.SourceDocument)
	}
	ev := generic.NewEvent(generic.EventProfileChanged, "profile", p.ID, p.CreatedBy, payload)
	ev.EmployeeID = p.EmployeeID
	if err := l.publisher.Publish(ctx, ev); err != nil {
		l.log.WithError(err).WithField("employee_id", string(p.EmployeeID)).Warn("publish profile event failed")
	}
}
