package report_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/insurance-engine/detection"
	"github.com/warp/insurance-engine/events"
	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/hr"
	"github.com/warp/insurance-engine/participation"
	"github.com/warp/insurance-engine/profile"
	"github.com/warp/insurance-engine/rates"
	"github.com/warp/insurance-engine/report"
	"github.com/warp/insurance-engine/salary"
	"github.com/warp/insurance-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func d(s string) generic.Date { return generic.MustParseDate(s) }

func money(n int64) *decimal.Decimal {
	v := decimal.NewFromInt(n)
	return &v
}

// sink keeps every row-set it was handed.
type sink struct {
	mu     sync.Mutex
	writes int
	rows   []report.ExportRow
	fail   error
}

func (s *sink) Write(_ context.Context, r report.Report, rows []report.ExportRow) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return "", s.fail
	}
	s.writes++
	s.rows = rows
	return fmt.Sprintf("mem://exports/%s.xlsx", r.Period().Key()), nil
}

type fixture struct {
	st     *memory.Store
	hr     *memory.HRStore
	svc    *report.Service
	sink   *sink
	events *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	st := memory.New()
	f := &fixture{st: st, hr: st.HR(), sink: &sink{}, events: events.NewRecorder()}

	rateSvc := rates.NewService(st.Rates(), rates.WithLogger(log))
	ledger := profile.NewLedger(st.Profiles(), profile.WithLogger(log))
	calc := salary.NewCalculator(rateSvc, ledger)
	detector := detection.NewEngine(f.hr.Sources(), st.Participation(), ledger, calc, detection.WithLogger(log))

	f.svc = report.NewService(st.Reports(), detector, f.hr,
		report.WithExportSink(f.sink),
		report.WithPublisher(f.events),
		report.WithClock(generic.FixedClock{At: time.Date(2024, time.November, 2, 8, 0, 0, 0, time.UTC)}),
		report.WithLogger(log),
	)
	return f
}

// hire registers an employee with an open contract.
func (f *fixture) hire(emp generic.EmployeeID, start string, amount *decimal.Decimal) {
	f.hr.PutEmployee(hr.Employee{ID: emp, Code: "C-" + string(emp), FullName: "Employee " + string(emp), Region: 1, HireDate: d(start)})
	f.hr.PutContract(hr.Contract{
		ID:              generic.DocumentID("CT-" + string(emp)),
		EmployeeID:      emp,
		Status:          hr.ContractActive,
		Start:           d(start),
		InsuranceSalary: amount,
		Coverage:        hr.FullCoverage,
	})
}

func (f *fixture) active(t *testing.T, emp generic.EmployeeID, start string, amount int64) {
	t.Helper()
	require.NoError(t, f.st.Participation().Put(context.Background(), participation.Participation{
		ID:              generic.NewID("part"),
		EmployeeID:      emp,
		Start:           d(start),
		Coverage:        hr.FullCoverage,
		InsuranceSalary: decimal.NewFromInt(amount),
		Status:          participation.StatusActive,
	}))
}

func (f *fixture) generate(t *testing.T) *report.GenerateResult {
	t.Helper()
	res, err := f.svc.Generate(context.Background(), 2024, time.October, "hr-admin")
	require.NoError(t, err)
	return res
}

func (f *fixture) records(t *testing.T, reportID string) map[generic.EmployeeID]report.ChangeRecord {
	t.Helper()
	list, err := f.svc.ListRecords(context.Background(), reportID)
	require.NoError(t, err)
	out := make(map[generic.EmployeeID]report.ChangeRecord, len(list))
	for _, rec := range list {
		out[rec.EmployeeID] = rec
	}
	return out
}

func (f *fixture) approve(t *testing.T, id string) {
	t.Helper()
	_, err := f.svc.Approve(context.Background(), report.ApproveCommand{RecordID: id, Actor: "hr-admin"})
	require.NoError(t, err)
}

// standard seeds one new hire, one raise and one leaver for October 2024.
func (f *fixture) standard(t *testing.T) {
	t.Helper()
	f.hire("E1", "2024-10-05", money(8_000_000))

	f.hire("E2", "2023-01-01", money(10_000_000))
	f.active(t, "E2", "2023-01-01", 10_000_000)
	f.hr.PutAppendix(hr.Appendix{
		ID: "APX-E2", ContractID: "CT-E2", EmployeeID: "E2",
		EffectiveDate: d("2024-10-01"), InsuranceSalary: money(12_000_000),
	})

	f.hr.PutEmployee(hr.Employee{ID: "E3", Code: "C-E3", FullName: "Employee E3", Region: 1})
	f.hr.PutContract(hr.Contract{
		ID: "CT-E3", EmployeeID: "E3", Status: hr.ContractTerminated,
		Start: d("2022-01-01"), TerminationDate: d("2024-10-15").Ptr(),
		InsuranceSalary: money(9_000_000), Coverage: hr.FullCoverage,
	})
	f.active(t, "E3", "2022-01-01", 9_000_000)
}

// =============================================================================
// CREATE / GENERATE
// =============================================================================

func TestCreateReport_ExclusivePerPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GIVEN many concurrent creators for the same month
	const callers = 16
	ids := make([]string, callers)
	created := make([]bool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, c, err := f.svc.CreateReport(ctx, 2024, time.October, "hr-admin")
			if !assert.NoError(t, err) {
				return
			}
			ids[i] = r.ID
			created[i] = c
		}(i)
	}
	wg.Wait()

	// THEN they all received the same report and only one exists
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	createdCount := 0
	for _, c := range created {
		if c {
			createdCount++
		}
	}
	assert.LessOrEqual(t, createdCount, 1)

	list, err := f.svc.ListReports(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, report.StatusDraft, list[0].Status)

	// AND a later caller gets the existing report back
	again, c, err := f.svc.CreateReport(ctx, 2024, time.October, "someone-else")
	require.NoError(t, err)
	assert.False(t, c)
	assert.Equal(t, ids[0], again.ID)
}

func TestCreateReport_RejectsBadMonth(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.CreateReport(context.Background(), 2024, time.Month(13), "hr-admin")
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestGenerate_ClassifiesAndPersists(t *testing.T) {
	f := newFixture(t)
	f.standard(t)

	res := f.generate(t)

	assert.Equal(t, 3, res.Detected)
	assert.Equal(t, 3, res.Inserted)
	recs := f.records(t, res.Report.ID)
	require.Len(t, recs, 3)

	assert.Equal(t, detection.ChangeIncrease, recs["E1"].ChangeType)
	assert.Equal(t, detection.ReasonNewHire, recs["E1"].AutoReason)
	assert.Equal(t, "2024-10-05", recs["E1"].EffectiveDate.String())

	assert.Equal(t, detection.ChangeAdjust, recs["E2"].ChangeType)
	assert.Equal(t, detection.ReasonSalaryChange, recs["E2"].AutoReason)
	assert.True(t, recs["E2"].InsuranceSalary.Equal(decimal.NewFromInt(12_000_000)))

	assert.Equal(t, detection.ChangeDecrease, recs["E3"].ChangeType)
	assert.Equal(t, detection.ReasonTermination, recs["E3"].AutoReason)
	assert.Equal(t, "2024-10-16", recs["E3"].EffectiveDate.String())

	for _, rec := range recs {
		assert.Equal(t, report.ApprovalPending, rec.ApprovalStatus)
	}
	assert.Len(t, f.events.OfType(generic.EventChangeRecordCreated), 3)
	assert.Len(t, f.events.OfType(generic.EventReportCreated), 1)
}

func TestGenerate_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.standard(t)

	first := f.generate(t)
	before := f.records(t, first.Report.ID)

	// WHEN detection runs again with no data change
	second := f.generate(t)

	// THEN nothing is inserted or refreshed and the record set is identical
	assert.Equal(t, first.Report.ID, second.Report.ID)
	assert.Zero(t, second.Inserted)
	assert.Zero(t, second.Refreshed)
	assert.Equal(t, 3, second.Unchanged)
	assert.Equal(t, before, f.records(t, first.Report.ID))
}

func TestGenerate_ReconcilesWithoutTouchingDecisions(t *testing.T) {
	f := newFixture(t)
	f.standard(t)
	first := f.generate(t)
	recs := f.records(t, first.Report.ID)

	// GIVEN E2's record approved and E1's detected content changed
	f.approve(t, recs["E2"].ID)
	f.hr.PutContract(hr.Contract{
		ID: "CT-E1", EmployeeID: "E1", Status: hr.ContractActive,
		Start: d("2024-10-07"), InsuranceSalary: money(8_500_000), Coverage: hr.FullCoverage,
	})
	f.hr.PutAppendix(hr.Appendix{
		ID: "APX-E2b", ContractID: "CT-E2", EmployeeID: "E2",
		EffectiveDate: d("2024-10-20"), InsuranceSalary: money(13_000_000),
	})
	// AND a fourth employee appears
	f.hire("E4", "2024-10-10", money(7_000_000))

	// WHEN re-run
	second := f.generate(t)

	// THEN the missing employee is added, the pending one refreshed, the approved one kept
	assert.Equal(t, 1, second.Inserted)
	assert.Equal(t, 1, second.Refreshed)
	assert.Equal(t, 1, second.Locked)

	after := f.records(t, first.Report.ID)
	require.Len(t, after, 4)
	assert.Equal(t, recs["E1"].ID, after["E1"].ID)
	assert.Equal(t, "2024-10-07", after["E1"].EffectiveDate.String())
	assert.True(t, after["E1"].InsuranceSalary.Equal(decimal.NewFromInt(8_500_000)))

	assert.Equal(t, report.ApprovalApproved, after["E2"].ApprovalStatus)
	assert.True(t, after["E2"].InsuranceSalary.Equal(decimal.NewFromInt(12_000_000)))
}

// =============================================================================
// DECISIONS
// =============================================================================

func TestReject_RequiresNote(t *testing.T) {
	f := newFixture(t)
	f.standard(t)
	res := f.generate(t)
	rec := f.records(t, res.Report.ID)["E1"]

	_, err := f.svc.Reject(context.Background(), report.RejectCommand{RecordID: rec.ID, Actor: "hr-admin", Note: "   "})
	require.Error(t, err)
	var verr *generic.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "note", verr.Field)

	out, err := f.svc.Reject(context.Background(), report.RejectCommand{RecordID: rec.ID, Actor: "hr-admin", Note: "duplicate hire"})
	require.NoError(t, err)
	assert.Equal(t, report.ApprovalRejected, out.ApprovalStatus)
	assert.Equal(t, "duplicate hire", out.DecisionNote)
	assert.Equal(t, "hr-admin", out.DecidedBy)
	assert.NotNil(t, out.DecidedAt)
}

func TestAdjust_RequiresSalaryAndReason(t *testing.T) {
	f := newFixture(t)
	f.standard(t)
	res := f.generate(t)
	rec := f.records(t, res.Report.ID)["E2"]
	ctx := context.Background()

	_, err := f.svc.Adjust(ctx, report.AdjustCommand{RecordID: rec.ID, Actor: "hr-admin", Salary: decimal.Zero, Reason: "cap"})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = f.svc.Adjust(ctx, report.AdjustCommand{RecordID: rec.ID, Actor: "hr-admin", Salary: decimal.NewFromInt(11_000_000)})
	assert.ErrorIs(t, err, generic.ErrValidation)

	out, err := f.svc.Adjust(ctx, report.AdjustCommand{
		RecordID: rec.ID, Actor: "hr-admin", Salary: decimal.NewFromInt(11_000_000), Reason: "statutory cap",
	})
	require.NoError(t, err)
	assert.Equal(t, report.ApprovalAdjusted, out.ApprovalStatus)
	assert.True(t, out.EffectiveSalary().Equal(decimal.NewFromInt(11_000_000)))
	assert.True(t, out.InsuranceSalary.Equal(decimal.NewFromInt(12_000_000)))
}

func TestDecisions_AreTerminal(t *testing.T) {
	f := newFixture(t)
	f.standard(t)
	res := f.generate(t)
	rec := f.records(t, res.Report.ID)["E1"]
	f.approve(t, rec.ID)

	_, err := f.svc.Reject(context.Background(), report.RejectCommand{RecordID: rec.ID, Actor: "hr-admin", Note: "late"})
	require.Error(t, err)
	var conflict *generic.StateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, string(report.ApprovalApproved), conflict.State)
	assert.Equal(t, []string{rec.ID}, conflict.Blocking)
}

func TestApprove_UnknownRecord(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Approve(context.Background(), report.ApproveCommand{RecordID: "rec-missing", Actor: "hr-admin"})
	assert.True(t, generic.IsNotFound(err))
}

func TestApprove_UnresolvedSalaryMustBeAdjusted(t *testing.T) {
	f := newFixture(t)

	// GIVEN a new hire whose contract has no salary and who has no profile
	f.hire("E9", "2024-10-01", nil)
	res := f.generate(t)
	rec := f.records(t, res.Report.ID)["E9"]
	require.Equal(t, detection.ChangeIncrease, rec.ChangeType)
	require.Equal(t, detection.ReasonNewHire, rec.AutoReason)
	require.Nil(t, rec.InsuranceSalary)

	// WHEN approved as-is
	_, err := f.svc.Approve(context.Background(), report.ApproveCommand{RecordID: rec.ID, Actor: "hr-admin"})

	// THEN it is rejected and the record stays PENDING
	assert.ErrorIs(t, err, generic.ErrValidation)
	got, err := f.svc.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, report.ApprovalPending, got.ApprovalStatus)

	_, err = f.svc.Adjust(context.Background(), report.AdjustCommand{
		RecordID: rec.ID, Actor: "hr-admin", Salary: decimal.NewFromInt(6_000_000), Reason: "from offer letter",
	})
	require.NoError(t, err)
}

func TestDecisions_DistinctRecordsConcurrently(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 20; i++ {
		f.hire(generic.EmployeeID(fmt.Sprintf("N%02d", i)), "2024-10-01", money(5_000_000))
	}
	res := f.generate(t)
	recs := f.records(t, res.Report.ID)
	require.Len(t, recs, 20)

	var wg sync.WaitGroup
	errs := make(chan error, len(recs))
	for _, rec := range recs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.Approve(context.Background(), report.ApproveCommand{RecordID: id, Actor: "hr-admin"})
			errs <- err
		}(rec.ID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	summary, err := f.svc.Summary(context.Background(), res.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, summary.ApprovedIncrease)
	assert.Zero(t, summary.Pending)
	assert.True(t, summary.TotalInsuranceSalary.Equal(decimal.NewFromInt(100_000_000)))
}

// =============================================================================
// FINALIZE
// =============================================================================

func TestFinalize_RejectedWhilePending(t *testing.T) {
	f := newFixture(t)
	f.standard(t)
	res := f.generate(t)
	recs := f.records(t, res.Report.ID)
	f.approve(t, recs["E1"].ID)

	_, err := f.svc.Finalize(context.Background(), res.Report.ID, "hr-admin")
	require.Error(t, err)

	var conflict *generic.StateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ElementsMatch(t, []string{recs["E2"].ID, recs["E3"].ID}, conflict.Blocking)
	assert.ErrorIs(t, err, generic.ErrInvariantViolation)

	r, err := f.svc.GetReport(context.Background(), res.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusDraft, r.Status)
	assert.Nil(t, r.FinalizedAt)
}

func TestFinalize_FreezesTotalsAndLocksReport(t *testing.T) {
	f := newFixture(t)
	f.standard(t)
	res := f.generate(t)
	recs := f.records(t, res.Report.ID)
	ctx := context.Background()

	f.approve(t, recs["E1"].ID)
	_, err := f.svc.Adjust(ctx, report.AdjustCommand{
		RecordID: recs["E2"].ID, Actor: "hr-admin", Salary: decimal.NewFromInt(11_000_000), Reason: "cap",
	})
	require.NoError(t, err)
	_, err = f.svc.Reject(ctx, report.RejectCommand{RecordID: recs["E3"].ID, Actor: "hr-admin", Note: "contract extended"})
	require.NoError(t, err)

	r, err := f.svc.Finalize(ctx, res.Report.ID, "chief")
	require.NoError(t, err)

	assert.Equal(t, report.StatusFinalized, r.Status)
	assert.Equal(t, "chief", r.FinalizedBy)
	require.NotNil(t, r.FinalizedAt)
	assert.Equal(t, 1, r.Totals.TotalIncrease)
	assert.Equal(t, 1, r.Totals.TotalAdjust)
	assert.Equal(t, 1, r.Totals.TotalDecrease)
	assert.Equal(t, 1, r.Totals.ApprovedIncrease)
	assert.Equal(t, 1, r.Totals.ApprovedAdjust)
	assert.Zero(t, r.Totals.ApprovedDecrease)
	assert.Equal(t, 1, r.Totals.Rejected)
	assert.True(t, r.Totals.TotalInsuranceSalary.Equal(decimal.NewFromInt(19_000_000)),
		"got %s", r.Totals.TotalInsuranceSalary)

	// THEN every further decision, regeneration or finalize is a state conflict
	_, err = f.svc.Finalize(ctx, res.Report.ID, "chief")
	assert.ErrorIs(t, err, generic.ErrStateConflict)
	_, err = f.svc.Generate(ctx, 2024, time.October, "hr-admin")
	assert.ErrorIs(t, err, generic.ErrStateConflict)
	assert.Len(t, f.events.OfType(generic.EventReportFinalized), 1)
}

func TestFinalize_DecisionsAfterFinalizeFail(t *testing.T) {
	f := newFixture(t)
	f.hire("E1", "2024-10-05", money(8_000_000))
	res := f.generate(t)
	rec := f.records(t, res.Report.ID)["E1"]
	f.approve(t, rec.ID)
	_, err := f.svc.Finalize(context.Background(), res.Report.ID, "chief")
	require.NoError(t, err)

	_, err = f.svc.Approve(context.Background(), report.ApproveCommand{RecordID: rec.ID, Actor: "hr-admin"})
	assert.ErrorIs(t, err, generic.ErrStateConflict)
}

func TestFinalize_RacesWithDecisions(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		ctx := context.Background()
		f.hire("E1", "2024-10-05", money(8_000_000))
		f.hire("E2", "2024-10-10", money(9_000_000))
		res := f.generate(t)
		recs := f.records(t, res.Report.ID)
		f.approve(t, recs["E1"].ID)
		last := recs["E2"].ID

		// GIVEN an approve and an adjust of the last pending record racing a finalize
		var (
			wg                   sync.WaitGroup
			approveErr, adjustErr error
			finalized            *report.Report
		)
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, approveErr = f.svc.Approve(ctx, report.ApproveCommand{RecordID: last, Actor: "hr-admin"})
		}()
		go func() {
			defer wg.Done()
			_, adjustErr = f.svc.Adjust(ctx, report.AdjustCommand{
				RecordID: last, Actor: "hr-admin", Salary: decimal.NewFromInt(9_500_000), Reason: "agreed rate",
			})
		}()
		go func() {
			defer wg.Done()
			for attempt := 0; attempt < 10_000; attempt++ {
				out, err := f.svc.Finalize(ctx, res.Report.ID, "chief")
				if err == nil {
					finalized = out
					return
				}
				if !assert.ErrorIs(t, err, generic.ErrStateConflict) {
					return
				}
				time.Sleep(time.Millisecond)
			}
		}()
		wg.Wait()

		// THEN exactly one decision landed and the other is a state conflict
		require.NotNil(t, finalized, "report never finalized")
		require.True(t, (approveErr == nil) != (adjustErr == nil), "approve=%v adjust=%v", approveErr, adjustErr)
		want := decimal.NewFromInt(8_000_000 + 9_000_000)
		if approveErr != nil {
			assert.ErrorIs(t, approveErr, generic.ErrStateConflict)
			want = decimal.NewFromInt(8_000_000 + 9_500_000)
		} else {
			assert.ErrorIs(t, adjustErr, generic.ErrStateConflict)
		}

		// AND the frozen totals count the winning decision
		assert.Equal(t, report.StatusFinalized, finalized.Status)
		assert.Equal(t, 2, finalized.Totals.ApprovedIncrease)
		assert.True(t, finalized.Totals.TotalInsuranceSalary.Equal(want),
			"got %s want %s", finalized.Totals.TotalInsuranceSalary, want)

		// AND nothing can be decided once the report is frozen
		_, err := f.svc.Reject(ctx, report.RejectCommand{RecordID: last, Actor: "hr-admin", Note: "late"})
		assert.ErrorIs(t, err, generic.ErrStateConflict)
	}
}

func TestFinalize_EmptyReport(t *testing.T) {
	f := newFixture(t)
	r, _, err := f.svc.CreateReport(context.Background(), 2024, time.October, "hr-admin")
	require.NoError(t, err)

	out, err := f.svc.Finalize(context.Background(), r.ID, "chief")
	require.NoError(t, err)
	assert.Equal(t, report.StatusFinalized, out.Status)
	assert.True(t, out.Totals.TotalInsuranceSalary.IsZero())
}

func TestFinalize_AppliesBaselineSoNextMonthIsQuiet(t *testing.T) {
	f := newFixture(t)
	f.standard(t)
	ctx := context.Background()
	res := f.generate(t)
	for _, rec := range f.records(t, res.Report.ID) {
		f.approve(t, rec.ID)
	}
	_, err := f.svc.Finalize(ctx, res.Report.ID, "chief")
	require.NoError(t, err)

	// THEN the baseline reflects the approved changes
	e1, err := f.st.Participation().History(ctx, "E1")
	require.NoError(t, err)
	require.Len(t, e1, 1)
	assert.Equal(t, participation.StatusActive, e1[0].Status)
	assert.Equal(t, "2024-10-05", e1[0].Start.String())
	assert.Equal(t, res.Report.ID, e1[0].SourceReport)

	e2, err := f.st.Participation().History(ctx, "E2")
	require.NoError(t, err)
	require.Len(t, e2, 2)
	assert.Equal(t, "2024-09-30", e2[0].End.String())
	assert.True(t, e2[1].InsuranceSalary.Equal(decimal.NewFromInt(12_000_000)))

	e3, err := f.st.Participation().History(ctx, "E3")
	require.NoError(t, err)
	require.Len(t, e3, 1)
	assert.Equal(t, participation.StatusTerminated, e3[0].Status)
	assert.Equal(t, "2024-10-15", e3[0].End.String())

	// AND November detects nothing new
	nov, err := f.svc.Generate(ctx, 2024, time.November, "hr-admin")
	require.NoError(t, err)
	assert.Zero(t, nov.Detected)
}

// =============================================================================
// EXPORT
// =============================================================================

func TestExport_RequiresFinalized(t *testing.T) {
	f := newFixture(t)
	f.standard(t)
	res := f.generate(t)

	_, err := f.svc.Export(context.Background(), res.Report.ID, "hr-admin")
	assert.ErrorIs(t, err, generic.ErrStateConflict)
	assert.Zero(t, f.sink.writes)
}

func TestExport_OnlyAcceptedRowsAndIdempotent(t *testing.T) {
	f := newFixture(t)
	f.standard(t)
	ctx := context.Background()
	res := f.generate(t)
	recs := f.records(t, res.Report.ID)
	f.approve(t, recs["E1"].ID)
	f.approve(t, recs["E2"].ID)
	_, err := f.svc.Reject(ctx, report.RejectCommand{RecordID: recs["E3"].ID, Actor: "hr-admin", Note: "wrong contract"})
	require.NoError(t, err)
	finalized, err := f.svc.Finalize(ctx, res.Report.ID, "chief")
	require.NoError(t, err)

	out, err := f.svc.Export(ctx, res.Report.ID, "hr-admin")
	require.NoError(t, err)
	assert.Equal(t, "mem://exports/2024-10.xlsx", out.ExportPath)
	require.Len(t, f.sink.rows, 2)
	for _, row := range f.sink.rows {
		assert.True(t, row.ApprovalStatus.Counts())
		assert.NotEmpty(t, row.EmployeeCode)
	}

	// WHEN exported again
	again, err := f.svc.Export(ctx, res.Report.ID, "hr-admin")
	require.NoError(t, err)

	// THEN the artifact is rewritten but the report is not re-finalized
	assert.Equal(t, 2, f.sink.writes)
	assert.Equal(t, out.ExportPath, again.ExportPath)
	stored, err := f.svc.GetReport(ctx, res.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusFinalized, stored.Status)
	assert.Equal(t, finalized.FinalizedAt, stored.FinalizedAt)
	assert.Equal(t, finalized.Totals, stored.Totals)
	assert.Equal(t, out.ExportPath, stored.ExportPath)
	assert.Len(t, f.events.OfType(generic.EventReportExported), 2)
}

func TestExport_SinkFailureLeavesReportUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, _, err := f.svc.CreateReport(ctx, 2024, time.October, "hr-admin")
	require.NoError(t, err)
	_, err = f.svc.Finalize(ctx, r.ID, "chief")
	require.NoError(t, err)

	f.sink.fail = errors.New("disk full")
	_, err = f.svc.Export(ctx, r.ID, "hr-admin")
	require.Error(t, err)

	stored, err := f.svc.GetReport(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.ExportPath)
	assert.Nil(t, stored.ExportedAt)
}
