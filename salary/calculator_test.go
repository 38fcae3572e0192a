package salary_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/profile"
	"github.com/warp/insurance-engine/rates"
	"github.com/warp/insurance-engine/salary"
	"github.com/warp/insurance-engine/store/memory"
)

func d(s string) generic.Date { return generic.MustParseDate(s) }

type fixture struct {
	rates  *rates.Service
	ledger *profile.Ledger
	calc   *salary.Calculator
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	log, _ := test.NewNullLogger()
	st := memory.New()
	f := fixture{
		rates:  rates.NewService(st.Rates(), rates.WithLogger(log)),
		ledger: profile.NewLedger(st.Profiles(), profile.WithLogger(log)),
	}
	f.calc = salary.NewCalculator(f.rates, f.ledger)

	_, err := f.rates.UpsertWage(ctx, rates.UpsertWageInput{Region: 1, Amount: decimal.NewFromInt(4_960_000), EffectiveFrom: d("2024-07-01")})
	require.NoError(t, err)
	_, err = f.rates.UpsertGrade(ctx, rates.UpsertGradeInput{PositionID: "DEV", Grade: 3, Coefficient: decimal.RequireFromString("1.5"), EffectiveFrom: d("2024-01-01")})
	require.NoError(t, err)
	_, err = f.rates.UpsertGrade(ctx, rates.UpsertGradeInput{PositionID: "DEV", Grade: 4, Coefficient: decimal.RequireFromString("1.75"), EffectiveFrom: d("2024-01-01")})
	require.NoError(t, err)
	return f
}

func TestCalculate_WageTimesCoefficient(t *testing.T) {
	f := newFixture(t)
	position := generic.PositionID("DEV")
	p := profile.Profile{ID: "profile-1", EmployeeID: "E1", PositionID: &position, Grade: 3}

	res, err := f.calc.Calculate(context.Background(), p, 1, d("2024-10-01"))
	require.NoError(t, err)

	assert.True(t, res.Salary.Equal(decimal.NewFromInt(7_440_000)), "got %s", res.Salary)
	assert.True(t, res.Wage.Equal(decimal.NewFromInt(4_960_000)))
	assert.True(t, res.Coefficient.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, "profile-1", res.ProfileID)
	assert.Equal(t, generic.Grade(3), res.Grade)
}

func TestCalculate_MissingInputsAreConfigurationErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	position := generic.PositionID("DEV")

	// No position on the profile
	_, err := f.calc.Calculate(ctx, profile.Profile{EmployeeID: "E1", Grade: 3}, 1, d("2024-10-01"))
	var noPos *generic.MissingPositionError
	assert.ErrorAs(t, err, &noPos)

	// No wage for region 2
	_, err = f.calc.Calculate(ctx, profile.Profile{EmployeeID: "E1", PositionID: &position, Grade: 3}, 2, d("2024-10-01"))
	assert.ErrorIs(t, err, generic.ErrConfiguration)

	// Wage starts after the date
	_, err = f.calc.Calculate(ctx, profile.Profile{EmployeeID: "E1", PositionID: &position, Grade: 3}, 1, d("2024-06-30"))
	var missing *generic.MissingRateError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "minimum_wage", missing.Kind)

	// No coefficient for grade 7
	_, err = f.calc.Calculate(ctx, profile.Profile{EmployeeID: "E1", PositionID: &position, Grade: 7}, 1, d("2024-10-01"))
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "grade_coefficient", missing.Kind)
}

func TestCalculateForEmployee_UsesSliceCoveringDate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	position := generic.PositionID("DEV")

	// GIVEN grade 3 from 2024-01-01 and grade 4 from 2024-10-15
	_, err := f.ledger.ApplyChange(ctx, profile.ChangeInput{
		EmployeeID: "E1", Grade: 3, PositionID: &position, Reason: profile.ReasonInitial, EffectiveDate: d("2024-01-01"),
	})
	require.NoError(t, err)
	_, err = f.ledger.ApplyChange(ctx, profile.ChangeInput{
		EmployeeID: "E1", Grade: 4, Reason: profile.ReasonSeniority, EffectiveDate: d("2024-10-15"),
	})
	require.NoError(t, err)

	// WHEN pricing either side of the change
	before, err := f.calc.CalculateForEmployee(ctx, "E1", 1, d("2024-10-14"))
	require.NoError(t, err)
	after, err := f.calc.CalculateForEmployee(ctx, "E1", 1, d("2024-10-15"))
	require.NoError(t, err)

	// THEN each side uses its own grade
	assert.True(t, before.Salary.Equal(decimal.NewFromInt(7_440_000)))
	assert.True(t, after.Salary.Equal(decimal.NewFromInt(8_680_000)))

	_, err = f.calc.CalculateForEmployee(ctx, "E2", 1, d("2024-10-15"))
	assert.True(t, generic.IsNotFound(err))
}
