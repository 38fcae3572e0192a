package report

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/warp/insurance-engine/detection"
	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/hr"
	"github.com/warp/insurance-engine/participation"
)

// Detector is satisfied by *detection.Engine.
type Detector interface {
	Detect(ctx context.Context, year int, month time.Month) (*detection.Result, error)
}

type Service struct {
	store     Store
	detector  Detector
	directory hr.Directory
	sink      ExportSink
	publisher generic.Publisher
	clock     generic.Clock
	log       logrus.FieldLogger
	validate  *validator.Validate

	creating singleflight.Group
	gates    sync.Map // report id -> *sync.RWMutex
}

type Option func(*Service)

func WithExportSink(s ExportSink) Option       { return func(svc *Service) { svc.sink = s } }
func WithPublisher(p generic.Publisher) Option { return func(svc *Service) { svc.publisher = p } }
func WithClock(c generic.Clock) Option         { return func(svc *Service) { svc.clock = c } }
func WithLogger(l logrus.FieldLogger) Option   { return func(svc *Service) { svc.log = l } }

func NewService(store Store, detector Detector, directory hr.Directory, opts ...Option) *Service {
	s := &Service{
		store:     store,
		detector:  detector,
		directory: directory,
		publisher: generic.NopPublisher{},
		clock:     generic.SystemClock{},
		log:       logrus.StandardLogger(),
		validate:  newValidator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "report")
	return s
}

// =============================================================================
// CREATE / GENERATE
// =============================================================================

// CreateReport returns the report for (year, month), creating it as DRAFT
// when none exists. created is false for every caller that received an
// existing report.
func (s *Service) CreateReport(ctx context.Context, year int, month time.Month, actor string) (r *Report, created bool, err error) {
	if err := generic.ValidateMonth(year, int(month)); err != nil {
		return nil, false, err
	}
	key := generic.MonthPeriod(year, month).Key()

	type outcome struct {
		report  *Report
		created bool
	}
	v, err, shared := s.creating.Do(key, func() (interface{}, error) {
		existing, err := s.store.FindReport(ctx, year, month)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return outcome{report: existing}, nil
		}

		r := Report{
			ID:        generic.NewID("rpt"),
			Year:      year,
			Month:     month,
			Status:    StatusDraft,
			Totals:    Totals{TotalInsuranceSalary: decimal.Zero},
			CreatedBy: actorOrSystem(actor),
			CreatedAt: s.clock.Now(),
		}
		if err := s.store.CreateReport(ctx, r); err != nil {
			if errors.Is(err, generic.ErrDuplicate) {
				existing, ferr := s.store.FindReport(ctx, year, month)
				if ferr != nil {
					return nil, ferr
				}
				return outcome{report: existing}, nil
			}
			return nil, err
		}
		return outcome{report: &r, created: true}, nil
	})
	if err != nil {
		return nil, false, err
	}

	out := v.(outcome)
	if out.report == nil {
		return nil, false, &generic.NotFoundError{Kind: "report", ID: key}
	}
	if out.created && !shared {
		s.log.WithFields(logrus.Fields{"report_id": out.report.ID, "period": key}).Info("monthly report created")
		s.publish(ctx, generic.NewEvent(generic.EventReportCreated, "report", out.report.ID, out.report.CreatedBy,
			map[string]any{"year": year, "month": int(month)}))
	}
	copied := *out.report
	return &copied, out.created && !shared, nil
}

// GenerateResult summarizes one reconciliation pass.
type GenerateResult struct {
	Report    *Report
	Detected  int
	Inserted  int
	Refreshed int
	Unchanged int
	Locked    int
}

// Generate creates or reuses the period's report, runs detection and
// reconciles its records: one record per employee. Missing records are
// inserted, PENDING records are refreshed when detection changed, decided
// records are left alone. Nothing is deleted.
func (s *Service) Generate(ctx context.Context, year int, month time.Month, actor string) (*GenerateResult, error) {
	r, _, err := s.CreateReport(ctx, year, month, actor)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusDraft {
		return nil, &generic.StateConflictError{Op: "generate report", State: string(r.Status)}
	}

	gate := s.gate(r.ID)
	gate.RLock()
	defer gate.RUnlock()

	detected, err := s.detector.Detect(ctx, year, month)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.ListRecords(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	byEmployee := make(map[generic.EmployeeID]ChangeRecord, len(existing))
	for _, rec := range existing {
		byEmployee[rec.EmployeeID] = rec
	}

	res := &GenerateResult{Report: r}
	logger := s.log.WithFields(logrus.Fields{"report_id": r.ID, "period": r.Period().Key()})
	for _, c := range detected.All() {
		res.Detected++
		current, ok := byEmployee[c.EmployeeID]
		if !ok {
			rec := recordFromChange(r.ID, c, s.clock.Now())
			if err := s.store.InsertRecord(ctx, rec); err != nil {
				if errors.Is(err, generic.ErrDuplicate) {
					res.Unchanged++
					continue
				}
				return res, err
			}
			res.Inserted++
			s.publish(ctx, recordEvent(generic.EventChangeRecordCreated, rec, actorOrSystem(actor)))
			continue
		}

		if current.ApprovalStatus != ApprovalPending {
			res.Locked++
			continue
		}
		if !current.refresh(c) {
			res.Unchanged++
			continue
		}
		current.UpdatedAt = s.clock.Now()
		ok, err := s.store.RefreshRecord(ctx, current)
		if err != nil {
			return res, err
		}
		if ok {
			res.Refreshed++
		} else {
			res.Locked++
		}
	}

	latest, err := s.GetReport(ctx, r.ID)
	if err != nil {
		return res, err
	}
	res.Report = latest

	logger.WithFields(logrus.Fields{
		"detected":  res.Detected,
		"inserted":  res.Inserted,
		"refreshed": res.Refreshed,
		"unchanged": res.Unchanged,
		"locked":    res.Locked,
	}).Info("monthly report reconciled")
	return res, nil
}

// =============================================================================
// DECISIONS
// =============================================================================

// Approve accepts a record as detected. INCREASE and ADJUST records without
// a resolved salary cannot be approved; they must be adjusted.
func (s *Service) Approve(ctx context.Context, cmd ApproveCommand) (*ChangeRecord, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return nil, mapValidationError(err)
	}
	return s.decide(ctx, cmd.RecordID, ApprovalApproved, generic.EventChangeApproved, func(rec *ChangeRecord) error {
		if rec.InsuranceSalary == nil && rec.ChangeType != detection.ChangeDecrease {
			return &generic.ValidationError{
				Field:   "insurance_salary",
				Message: fmt.Sprintf("record %s has no resolved insurance salary; adjust instead", rec.ID),
			}
		}
		rec.DecisionNote = cmd.Note
		rec.DecidedBy = cmd.Actor
		return nil
	})
}

// Reject declines a record; the note explains why.
func (s *Service) Reject(ctx context.Context, cmd RejectCommand) (*ChangeRecord, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return nil, mapValidationError(err)
	}
	return s.decide(ctx, cmd.RecordID, ApprovalRejected, generic.EventChangeRejected, func(rec *ChangeRecord) error {
		rec.DecisionNote = cmd.Note
		rec.DecidedBy = cmd.Actor
		return nil
	})
}

// Adjust accepts a record with an administrator-supplied salary.
func (s *Service) Adjust(ctx context.Context, cmd AdjustCommand) (*ChangeRecord, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return nil, mapValidationError(err)
	}
	return s.decide(ctx, cmd.RecordID, ApprovalAdjusted, generic.EventChangeAdjusted, func(rec *ChangeRecord) error {
		salary := cmd.Salary
		rec.AdjustedSalary = &salary
		rec.AdjustReason = cmd.Reason
		rec.DecidedBy = cmd.Actor
		return nil
	})
}

func (s *Service) decide(ctx context.Context, recordID string, next ApprovalStatus, evt generic.EventType, apply func(*ChangeRecord) error) (*ChangeRecord, error) {
	op := "decide change record"
	rec, err := s.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}

	gate := s.gate(rec.ReportID)
	gate.RLock()
	defer gate.RUnlock()

	if !rec.ApprovalStatus.CanTransition(next) {
		return nil, &generic.StateConflictError{Op: op, State: string(rec.ApprovalStatus), Blocking: []string{rec.ID}}
	}
	decided := *rec
	if err := apply(&decided); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	decided.ApprovalStatus = next
	decided.DecidedAt = &now
	decided.UpdatedAt = now

	ok, err := s.store.Decide(ctx, decided)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.decisionConflict(ctx, op, rec.ID)
	}

	s.log.WithFields(logrus.Fields{
		"report_id":   decided.ReportID,
		"record_id":   decided.ID,
		"employee_id": string(decided.EmployeeID),
		"status":      string(next),
		"actor":       decided.DecidedBy,
	}).Info("change record decided")
	s.publish(ctx, recordEvent(evt, decided, decided.DecidedBy))
	return &decided, nil
}

// decisionConflict explains why a compare-and-set decision did not land.
func (s *Service) decisionConflict(ctx context.Context, op, recordID string) error {
	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return err
	}
	if rec == nil {
		return &generic.NotFoundError{Kind: "change record", ID: recordID}
	}
	if rec.ApprovalStatus != ApprovalPending {
		return &generic.StateConflictError{Op: op, State: string(rec.ApprovalStatus), Blocking: []string{rec.ID}}
	}
	return &generic.StateConflictError{Op: op, State: "report " + string(StatusFinalized), Blocking: []string{rec.ReportID}}
}

// =============================================================================
// FINALIZE
// =============================================================================

// Finalize locks the report. It fails with a StateConflictError naming the
// PENDING records when any remain. Totals, participation baseline updates
// and the status change commit together.
func (s *Service) Finalize(ctx context.Context, reportID, actor string) (*Report, error) {
	if _, err := s.GetReport(ctx, reportID); err != nil {
		return nil, err
	}

	gate := s.gate(reportID)
	gate.Lock()
	defer gate.Unlock()

	actor = actorOrSystem(actor)
	now := s.clock.Now()
	finalized, err := s.store.Finalize(ctx, reportID, func(ctx context.Context, r Report, records []ChangeRecord, w participation.Writer) (Report, error) {
		if r.Status != StatusDraft {
			return Report{}, &generic.StateConflictError{Op: "finalize report", State: string(r.Status)}
		}
		var pending []string
		for _, rec := range records {
			if rec.ApprovalStatus == ApprovalPending {
				pending = append(pending, rec.ID)
			}
		}
		if len(pending) > 0 {
			return Report{}, &generic.StateConflictError{Op: "finalize report", State: "records pending", Blocking: pending}
		}

		for _, rec := range records {
			if !rec.ApprovalStatus.Counts() {
				continue
			}
			if err := participation.Apply(ctx, w, baselineChange(rec), now); err != nil {
				return Report{}, fmt.Errorf("apply record %s to participation: %w", rec.ID, err)
			}
		}

		r.Totals = ComputeTotals(records)
		r.Status = StatusFinalized
		r.FinalizedAt = &now
		r.FinalizedBy = actor
		return r, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"report_id":              finalized.ID,
		"period":                 finalized.Period().Key(),
		"total_insurance_salary": finalized.Totals.TotalInsuranceSalary.String(),
		"actor":                  actor,
	}).Info("monthly report finalized")
	s.publish(ctx, generic.NewEvent(generic.EventReportFinalized, "report", finalized.ID, actor, map[string]any{
		"year":                   finalized.Year,
		"month":                  int(finalized.Month),
		"total_insurance_salary": finalized.Totals.TotalInsuranceSalary.String(),
	}))
	return finalized, nil
}

// baselineChange translates an accepted record into a participation change.
func baselineChange(rec ChangeRecord) participation.Change {
	c := participation.Change{
		EmployeeID:     rec.EmployeeID,
		EffectiveDate:  rec.EffectiveDate,
		Salary:         decimal.Zero,
		Coverage:       rec.Coverage,
		SourceContract: rec.ContractID,
		SourceAppendix: rec.AppendixID,
		ReportID:       rec.ReportID,
	}
	if s := rec.EffectiveSalary(); s != nil {
		c.Salary = *s
	}
	switch rec.ChangeType {
	case detection.ChangeIncrease:
		c.Action = participation.ActionEnroll
	case detection.ChangeDecrease:
		if rec.AutoReason == detection.ReasonTermination {
			c.Action = participation.ActionTerminate
		} else {
			c.Action = participation.ActionSuspend
		}
	default:
		c.Action = participation.ActionReprice
	}
	return c
}

// =============================================================================
// EXPORT
// =============================================================================

// Export hands the APPROVED and ADJUSTED records of a FINALIZED report to
// the export sink and stores the returned location, replacing any previous
// one.
func (s *Service) Export(ctx context.Context, reportID, actor string) (*Report, error) {
	if s.sink == nil {
		return nil, fmt.Errorf("export sink not configured: %w", generic.ErrConfiguration)
	}
	r, err := s.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusFinalized {
		return nil, &generic.StateConflictError{Op: "export report", State: string(r.Status)}
	}

	rows, err := s.ExportRows(ctx, *r)
	if err != nil {
		return nil, err
	}
	location, err := s.sink.Write(ctx, *r, rows)
	if err != nil {
		return nil, fmt.Errorf("write export for report %s: %w", r.ID, err)
	}

	actor = actorOrSystem(actor)
	now := s.clock.Now()
	if err := s.store.SetExport(ctx, r.ID, location, actor, now); err != nil {
		return nil, err
	}
	r.ExportPath = location
	r.ExportedAt = &now
	r.ExportedBy = actor

	s.log.WithFields(logrus.Fields{"report_id": r.ID, "location": location, "rows": len(rows)}).Info("monthly report exported")
	s.publish(ctx, generic.NewEvent(generic.EventReportExported, "report", r.ID, actor, map[string]any{
		"location": location,
		"rows":     len(rows),
	}))
	return r, nil
}

// ExportRows builds the export row-set of a report.
func (s *Service) ExportRows(ctx context.Context, r Report) ([]ExportRow, error) {
	records, err := s.store.ListRecords(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	rows := make([]ExportRow, 0, len(records))
	for _, rec := range records {
		if !rec.ApprovalStatus.Counts() {
			continue
		}
		row := ExportRow{
			RecordID:       rec.ID,
			EmployeeID:     string(rec.EmployeeID),
			ChangeType:     rec.ChangeType,
			Reason:         rec.AutoReason,
			EffectiveDate:  rec.EffectiveDate.String(),
			Coverage:       rec.Coverage,
			ApprovalStatus: rec.ApprovalStatus,
			AdjustReason:   rec.AdjustReason,
		}
		if sal := rec.EffectiveSalary(); sal != nil {
			row.InsuranceSalary = *sal
		}
		if rec.ContractID != nil {
			row.ContractID = string(*rec.ContractID)
		}
		if rec.AppendixID != nil {
			row.AppendixID = string(*rec.AppendixID)
		}
		emp, err := s.directory.GetEmployee(ctx, rec.EmployeeID)
		if err != nil && !generic.IsNotFound(err) {
			return nil, err
		}
		if emp != nil {
			row.EmployeeCode = emp.Code
			row.EmployeeName = emp.FullName
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) GetReport(ctx context.Context, id string) (*Report, error) {
	r, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, &generic.NotFoundError{Kind: "report", ID: id}
	}
	return r, nil
}

func (s *Service) ListReports(ctx context.Context) ([]Report, error) {
	return s.store.ListReports(ctx)
}

func (s *Service) GetRecord(ctx context.Context, id string) (*ChangeRecord, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &generic.NotFoundError{Kind: "change record", ID: id}
	}
	return rec, nil
}

func (s *Service) ListRecords(ctx context.Context, reportID string) ([]ChangeRecord, error) {
	if _, err := s.GetReport(ctx, reportID); err != nil {
		return nil, err
	}
	return s.store.ListRecords(ctx, reportID)
}

// Summary returns live totals for a DRAFT report and the frozen totals of a
// FINALIZED one.
func (s *Service) Summary(ctx context.Context, reportID string) (*Totals, error) {
	r, err := s.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r.Status == StatusFinalized {
		return &r.Totals, nil
	}
	records, err := s.store.ListRecords(ctx, reportID)
	if err != nil {
		return nil, err
	}
	t := ComputeTotals(records)
	return &t, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) gate(reportID string) *sync.RWMutex {
	g, _ := s.gates.LoadOrStore(reportID, &sync.RWMutex{})
	return g.(*sync.RWMutex)
}

func (s *Service) publish(ctx context.Context, ev generic.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.WithError(err).WithField("event_type", string(ev.Type)).Warn("publish report event failed")
	}
}

func recordEvent(t generic.EventType, rec ChangeRecord, actor string) generic.Event {
	payload := map[string]any{
		"report_id":       rec.ReportID,
		"change_type":     string(rec.ChangeType),
		"auto_reason":     string(rec.AutoReason),
		"effective_date":  rec.EffectiveDate.String(),
		"approval_status": string(rec.ApprovalStatus),
	}
	if sal := rec.EffectiveSalary(); sal != nil {
		payload["insurance_salary"] = sal.String()
	}
	if rec.DecisionNote != "" {
		payload["note"] = rec.DecisionNote
	}
	if rec.AdjustReason != "" {
		payload["adjust_reason"] = rec.AdjustReason
	}
	ev := generic.NewEvent(t, "change_record", rec.ID, actor, payload)
	ev.EmployeeID = rec.EmployeeID
	return ev
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return generic.SystemActor
	}
	return actor
}
