package postgres

import (
	"context"
	"os"
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
)

// newStore connects to TEST_DATABASE_URL and empties every table.
func newStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	st, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	_, err = st.pool.Exec(ctx, `TRUNCATE minimum_wages, position_salary_grades, employee_insurance_profiles,
		grade_suggestions, insurance_change_records, insurance_monthly_reports, insurance_participations,
		employees, contracts, contract_appendices, absences, employment_periods`)
	require.NoError(t, err)
	return st
}

func d(s string) generic.Date { return generic.MustParseDate(s) }

func TestPostgres_RatesAndCalculator(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	log, _ := test.NewNullLogger()
	svc := rates.NewService(st.Rates(), rates.WithLogger(log))
	ledger := profile.NewLedger(st.Profiles(), profile.WithLogger(log))
	calc := salary.NewCalculator(svc, ledger)

	// GIVEN two consecutive wages and a coefficient
	_, err := svc.UpsertWage(ctx, rates.UpsertWageInput{Region: 1, Amount: decimal.NewFromInt(4_680_000), EffectiveFrom: d("2023-07-01")})
	require.NoError(t, err)
	_, err = svc.UpsertWage(ctx, rates.UpsertWageInput{Region: 1, Amount: decimal.NewFromInt(4_960_000), EffectiveFrom: d("2024-07-01")})
	require.NoError(t, err)
	_, err = svc.UpsertGrade(ctx, rates.UpsertGradeInput{PositionID: "DEV", Grade: 3, Coefficient: decimal.RequireFromString("2.34"), EffectiveFrom: d("2024-01-01")})
	require.NoError(t, err)

	// THEN the earlier wage was closed the day before
	wages, err := svc.ListWages(ctx, 1)
	require.NoError(t, err)
	require.Len(t, wages, 2)
	require.NotNil(t, wages[0].Effective.To)
	assert.Equal(t, d("2024-06-30"), *wages[0].Effective.To)

	// AND an overlapping insert writes nothing
	_, err = svc.UpsertWage(ctx, rates.UpsertWageInput{Region: 1, Amount: decimal.NewFromInt(1), EffectiveFrom: d("2024-01-01")})
	assert.ErrorIs(t, err, generic.ErrConfiguration)

	// WHEN pricing a profile
	pos := generic.PositionID("DEV")
	_, err = ledger.ApplyChange(ctx, profile.ChangeInput{
		EmployeeID: "E1", Grade: 3, PositionID: &pos, Reason: profile.ReasonInitial,
		EffectiveDate: d("2022-01-01"), Actor: "hr-admin",
	})
	require.NoError(t, err)
	res, err := calc.CalculateForEmployee(ctx, "E1", 1, d("2024-10-01"))
	require.NoError(t, err)
	assert.Equal(t, "11606400", res.Salary.String())
}

func TestPostgres_ReportWorkflow(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	log, _ := test.NewNullLogger()
	hrs := st.HR()

	eight := decimal.NewFromInt(8_000_000)
	require.NoError(t, hrs.PutEmployee(ctx, hr.Employee{ID: "E1", Code: "C-E1", FullName: "New Hire", Region: 1, HireDate: d("2024-10-05")}))
	require.NoError(t, hrs.PutContract(ctx, hr.Contract{
		ID: "CT-E1", EmployeeID: "E1", Status: hr.ContractActive,
		Start: d("2024-10-05"), InsuranceSalary: &eight, Coverage: hr.FullCoverage,
	}))

	ledger := profile.NewLedger(st.Profiles(), profile.WithLogger(log))
	calc := salary.NewCalculator(rates.NewService(st.Rates(), rates.WithLogger(log)), ledger)
	detector := detection.NewEngine(hrs.Sources(), st.Participation(), ledger, calc, detection.WithLogger(log))
	svc := report.NewService(st.Reports(), detector, hrs,
		report.WithClock(generic.FixedClock{At: time.Date(2024, time.November, 2, 0, 0, 0, 0, time.UTC)}),
		report.WithLogger(log),
	)

	// WHEN generating twice
	first, err := svc.Generate(ctx, 2024, time.October, "hr-admin")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)
	again, err := svc.Generate(ctx, 2024, time.October, "hr-admin")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Inserted)
	assert.Equal(t, 1, again.Unchanged)

	records, err := svc.ListRecords(ctx, first.Report.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)

	// AND approving and finalizing
	_, err = svc.Approve(ctx, report.ApproveCommand{RecordID: records[0].ID, Actor: "hr-admin"})
	require.NoError(t, err)
	final, err := svc.Finalize(ctx, first.Report.ID, "chief")
	require.NoError(t, err)

	// THEN totals are frozen and the baseline has the new hire
	assert.Equal(t, report.StatusFinalized, final.Status)
	assert.True(t, final.Totals.TotalInsuranceSalary.Equal(eight))
	p, err := st.Participation().Latest(ctx, "E1", d("2024-11-01"))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, participation.StatusActive, p.Status)
}
