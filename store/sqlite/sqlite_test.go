package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/insurance-engine/detection"
	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/hr"
	"github.com/warp/insurance-engine/participation"
	"github.com/warp/insurance-engine/profile"
	"github.com/warp/insurance-engine/rates"
	"github.com/warp/insurance-engine/report"
	"github.com/warp/insurance-engine/salary"
	"github.com/warp/insurance-engine/store/sqlite"
	"github.com/warp/insurance-engine/suggestion"
)

func d(s string) generic.Date { return generic.MustParseDate(s) }

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// =============================================================================
// RATES
// =============================================================================

func TestRates_UpsertClosesPreviousAndLooksUp(t *testing.T) {
	st := newStore(t)
	log, _ := test.NewNullLogger()
	svc := rates.NewService(st.Rates(), rates.WithLogger(log))
	ctx := context.Background()

	// GIVEN two consecutive wages for region 1
	_, err := svc.UpsertWage(ctx, rates.UpsertWageInput{Region: 1, Amount: decimal.NewFromInt(4_680_000), EffectiveFrom: d("2023-07-01")})
	require.NoError(t, err)
	_, err = svc.UpsertWage(ctx, rates.UpsertWageInput{Region: 1, Amount: decimal.NewFromInt(4_960_000), EffectiveFrom: d("2024-07-01")})
	require.NoError(t, err)

	// THEN the first is closed the day before the second
	history, err := svc.ListWages(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.NotNil(t, history[0].Effective.To)
	assert.Equal(t, "2024-06-30", history[0].Effective.To.String())
	assert.True(t, history[1].Effective.IsOpen())

	// AND lookups switch exactly at the boundary
	amount, ok, err := svc.LookupWage(ctx, 1, d("2024-06-30"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, amount.Equal(decimal.NewFromInt(4_680_000)))

	amount, ok, err = svc.LookupWage(ctx, 1, d("2024-07-01"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, amount.Equal(decimal.NewFromInt(4_960_000)))

	_, ok, err = svc.LookupWage(ctx, 1, d("2023-06-30"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRates_OverlapRejectedWithoutWrites(t *testing.T) {
	st := newStore(t)
	svc := rates.NewService(st.Rates())
	ctx := context.Background()

	_, err := svc.UpsertGrade(ctx, rates.UpsertGradeInput{PositionID: "DEV", Grade: 3, Coefficient: decimal.RequireFromString("2.34"), EffectiveFrom: d("2024-01-01")})
	require.NoError(t, err)

	// WHEN a coefficient is back-dated into the open record's window
	_, err = svc.UpsertGrade(ctx, rates.UpsertGradeInput{PositionID: "DEV", Grade: 3, Coefficient: decimal.RequireFromString("2.50"), EffectiveFrom: d("2023-06-01")})

	// THEN it is a configuration error and the table is unchanged
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrConfiguration)
	var overlap *generic.OverlapError
	assert.True(t, errors.As(err, &overlap))

	history, err := svc.ListGrades(ctx, "DEV")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Effective.IsOpen())
}

func TestRates_CalculatorScenario(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	rateSvc := rates.NewService(st.Rates())
	ledger := profile.NewLedger(st.Profiles())
	calc := salary.NewCalculator(rateSvc, ledger)

	_, err := rateSvc.UpsertWage(ctx, rates.UpsertWageInput{Region: 1, Amount: decimal.NewFromInt(4_960_000), EffectiveFrom: d("2024-07-01")})
	require.NoError(t, err)
	_, err = rateSvc.UpsertGrade(ctx, rates.UpsertGradeInput{PositionID: "P", Grade: 3, Coefficient: decimal.RequireFromString("2.34"), EffectiveFrom: d("2024-01-01")})
	require.NoError(t, err)

	position := generic.PositionID("P")
	_, err = ledger.ApplyChange(ctx, profile.ChangeInput{
		EmployeeID: "E1", Grade: 3, PositionID: &position, Reason: profile.ReasonInitial, EffectiveDate: d("2024-01-01"),
	})
	require.NoError(t, err)

	res, err := calc.CalculateForEmployee(ctx, "E1", 1, d("2024-08-01"))
	require.NoError(t, err)
	assert.Equal(t, "11606400", res.Salary.String())

	// Before the wage exists the calculation fails instead of returning zero.
	_, err = calc.CalculateForEmployee(ctx, "E1", 1, d("2024-06-01"))
	var missing *generic.MissingRateError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "minimum_wage", missing.Kind)
}

// =============================================================================
// PROFILES
// =============================================================================

func TestProfiles_OneCurrentSlice(t *testing.T) {
	st := newStore(t)
	ledger := profile.NewLedger(st.Profiles())
	ctx := context.Background()
	position := generic.PositionID("DEV")

	_, err := ledger.ApplyChange(ctx, profile.ChangeInput{
		EmployeeID: "E1", Grade: 2, PositionID: &position, Reason: profile.ReasonInitial, EffectiveDate: d("2021-03-01"),
	})
	require.NoError(t, err)
	_, err = ledger.ApplyChange(ctx, profile.ChangeInput{
		EmployeeID: "E1", Grade: 3, Reason: profile.ReasonSeniority, EffectiveDate: d("2024-03-01"),
	})
	require.NoError(t, err)

	history, err := ledger.History(ctx, "E1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2024-02-29", history[0].Applied.To.String())
	assert.True(t, history[1].IsCurrent())
	assert.Equal(t, position, history[1].Position())

	current, err := ledger.GetCurrent(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, generic.Grade(3), current.Grade)

	asOf, err := ledger.AsOf(ctx, "E1", d("2023-12-31"))
	require.NoError(t, err)
	assert.Equal(t, generic.Grade(2), asOf.Grade)

	// Backdating into the current window is rejected and leaves history intact.
	_, err = ledger.ApplyChange(ctx, profile.ChangeInput{
		EmployeeID: "E1", Grade: 4, Reason: profile.ReasonPromotion, EffectiveDate: d("2024-03-01"),
	})
	assert.ErrorIs(t, err, generic.ErrInvariantViolation)
	history, err = ledger.History(ctx, "E1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

// =============================================================================
// SUGGESTIONS
// =============================================================================

func TestSuggestions_CompareAndSetAndExpire(t *testing.T) {
	st := newStore(t)
	ss := st.Suggestions()
	ctx := context.Background()
	at := time.Date(2024, time.July, 1, 9, 0, 0, 0, time.UTC)

	sg := suggestion.Suggestion{
		ID: "sg-1", EmployeeID: "E1", ProfileID: "profile-1",
		CurrentGrade: 2, SuggestedGrade: 3, TenureYears: 3,
		Status: suggestion.StatusPending, SuggestedAt: at, ExpiresAt: at.AddDate(0, 0, 90),
	}
	require.NoError(t, ss.Insert(ctx, sg))

	// A second PENDING suggestion for the same employee is refused by the store.
	dup := sg
	dup.ID = "sg-2"
	assert.ErrorIs(t, ss.Insert(ctx, dup), generic.ErrDuplicate)

	// Compare-and-set only applies from the expected status.
	rejected := sg
	rejected.Status = suggestion.StatusRejected
	ok, err := ss.CompareAndSet(ctx, rejected, suggestion.StatusApproved)
	require.NoError(t, err)
	assert.False(t, ok)

	// Sweep before the deadline: nothing. After: EXPIRED.
	expired, err := ss.ExpireDue(ctx, at.AddDate(0, 0, 89))
	require.NoError(t, err)
	assert.Empty(t, expired)

	expired, err = ss.ExpireDue(ctx, at.AddDate(0, 0, 91))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, suggestion.StatusExpired, expired[0].Status)

	got, err := ss.Get(ctx, "sg-1")
	require.NoError(t, err)
	assert.Equal(t, suggestion.StatusExpired, got.Status)
}

// =============================================================================
// REPORTS
// =============================================================================

func TestReports_UniquePeriodAndRecord(t *testing.T) {
	st := newStore(t)
	rs := st.Reports()
	ctx := context.Background()
	now := time.Date(2024, time.November, 1, 8, 0, 0, 0, time.UTC)

	r := report.Report{ID: "rpt-1", Year: 2024, Month: time.October, Status: report.StatusDraft, CreatedBy: "hr", CreatedAt: now,
		Totals: report.Totals{TotalInsuranceSalary: decimal.Zero}}
	require.NoError(t, rs.CreateReport(ctx, r))

	again := r
	again.ID = "rpt-2"
	assert.ErrorIs(t, rs.CreateReport(ctx, again), generic.ErrDuplicate)

	found, err := rs.FindReport(ctx, 2024, time.October)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "rpt-1", found.ID)

	rec := report.ChangeRecord{
		ID: "rec-1", ReportID: "rpt-1", EmployeeID: "E1",
		ChangeType: detection.ChangeIncrease, AutoReason: detection.ReasonNewHire,
		EffectiveDate: d("2024-10-05"), Coverage: hr.FullCoverage,
		ApprovalStatus: report.ApprovalPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, rs.InsertRecord(ctx, rec))
	dup := rec
	dup.ID = "rec-2"
	assert.ErrorIs(t, rs.InsertRecord(ctx, dup), generic.ErrDuplicate)

	missing, err := rs.GetReport(ctx, "rpt-unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestReports_FinalizeRollsBackOnFailure(t *testing.T) {
	st := newStore(t)
	rs := st.Reports()
	ctx := context.Background()
	now := time.Date(2024, time.November, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, rs.CreateReport(ctx, report.Report{ID: "rpt-1", Year: 2024, Month: time.October,
		Status: report.StatusDraft, CreatedBy: "hr", CreatedAt: now, Totals: report.Totals{TotalInsuranceSalary: decimal.Zero}}))

	// WHEN the finalize callback writes the baseline and then fails
	_, err := rs.Finalize(ctx, "rpt-1", func(ctx context.Context, r report.Report, _ []report.ChangeRecord, w participation.Writer) (report.Report, error) {
		require.NoError(t, w.Insert(ctx, participation.Participation{
			ID: "part-1", EmployeeID: "E1", Start: d("2024-10-05"), Status: participation.StatusActive,
			InsuranceSalary: decimal.NewFromInt(8_000_000), CreatedAt: now,
		}))
		return report.Report{}, errors.New("aggregation failed")
	})
	require.Error(t, err)

	// THEN neither the baseline write nor a status change survived
	history, err := st.Participation().History(ctx, "E1")
	require.NoError(t, err)
	assert.Empty(t, history)

	r, err := rs.GetReport(ctx, "rpt-1")
	require.NoError(t, err)
	assert.Equal(t, report.StatusDraft, r.Status)
}

func TestReports_EndToEndWorkflow(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	log, _ := test.NewNullLogger()
	h := st.HR()

	require.NoError(t, h.PutEmployee(ctx, hr.Employee{ID: "E1", Code: "NV001", FullName: "Nguyen Van A", Region: 1, HireDate: d("2024-10-05")}))
	salaryAmount := decimal.NewFromInt(8_000_000)
	require.NoError(t, h.PutContract(ctx, hr.Contract{
		ID: "CT-1", EmployeeID: "E1", Status: hr.ContractActive, Start: d("2024-10-05"),
		InsuranceSalary: &salaryAmount, Coverage: hr.FullCoverage,
	}))
	require.NoError(t, h.PutEmploymentPeriod(ctx, hr.EmploymentPeriod{
		ID: "EP-1", EmployeeID: "E1", Start: d("2024-10-05"), Status: hr.PeriodActive,
	}))

	rateSvc := rates.NewService(st.Rates(), rates.WithLogger(log))
	ledger := profile.NewLedger(st.Profiles(), profile.WithLogger(log))
	detector := detection.NewEngine(h.Sources(), st.Participation(), ledger, salary.NewCalculator(rateSvc, ledger),
		detection.WithLogger(log))
	svc := report.NewService(st.Reports(), detector, h, report.WithLogger(log))

	// GIVEN October generated twice
	first, err := svc.Generate(ctx, 2024, time.October, "hr")
	require.NoError(t, err)
	require.Equal(t, 1, first.Inserted)
	second, err := svc.Generate(ctx, 2024, time.October, "hr")
	require.NoError(t, err)
	assert.Zero(t, second.Inserted)
	assert.Equal(t, 1, second.Unchanged)

	records, err := svc.ListRecords(ctx, first.Report.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, detection.ReasonNewHire, rec.AutoReason)
	assert.Equal(t, "2024-10-05", rec.EffectiveDate.String())
	require.NotNil(t, rec.ContractID)
	assert.Equal(t, generic.DocumentID("CT-1"), *rec.ContractID)

	// WHEN approved and finalized
	_, err = svc.Finalize(ctx, first.Report.ID, "chief")
	assert.ErrorIs(t, err, generic.ErrStateConflict)

	_, err = svc.Approve(ctx, report.ApproveCommand{RecordID: rec.ID, Actor: "hr"})
	require.NoError(t, err)
	finalized, err := svc.Finalize(ctx, first.Report.ID, "chief")
	require.NoError(t, err)

	// THEN totals and the baseline are persisted
	stored, err := svc.GetReport(ctx, first.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusFinalized, stored.Status)
	assert.Equal(t, "chief", stored.FinalizedBy)
	assert.Equal(t, 1, stored.Totals.ApprovedIncrease)
	assert.True(t, stored.Totals.TotalInsuranceSalary.Equal(finalized.Totals.TotalInsuranceSalary))

	latest, err := st.Participation().Latest(ctx, "E1", d("2024-11-01"))
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, participation.StatusActive, latest.Status)
	assert.True(t, latest.InsuranceSalary.Equal(salaryAmount))
	assert.Equal(t, hr.FullCoverage, latest.Coverage)

	// AND the finalized report refuses further decisions at the store level
	ok, err := st.Reports().Decide(ctx, rec)
	require.NoError(t, err)
	assert.False(t, ok)
}
