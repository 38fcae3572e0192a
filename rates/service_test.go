package rates_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/rates"
	"github.com/warp/insurance-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newService(t *testing.T) *rates.Service {
	t.Helper()
	log, _ := test.NewNullLogger()
	return rates.NewService(memory.New().Rates(), rates.WithLogger(log))
}

func d(s string) generic.Date { return generic.MustParseDate(s) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func upsertWage(t *testing.T, svc *rates.Service, region generic.Region, amount, from string) *rates.MinimumWage {
	t.Helper()
	w, err := svc.UpsertWage(context.Background(), rates.UpsertWageInput{
		Region: region, Amount: dec(amount), EffectiveFrom: d(from),
	})
	require.NoError(t, err)
	return w
}

// =============================================================================
// WAGE TESTS
// =============================================================================

func TestUpsertWage_ClosesPreviousOpenRecord(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	// GIVEN region 1 wage 4,960,000 from 2024-07-01
	first := upsertWage(t, svc, 1, "4960000", "2024-07-01")

	// WHEN a new wage 5,200,000 starts on 2025-01-01
	second := upsertWage(t, svc, 1, "5200000", "2025-01-01")

	// THEN the first record ends on 2024-12-31 and lookups switch on the boundary
	wages, err := svc.ListWages(ctx, 1)
	require.NoError(t, err)
	require.Len(t, wages, 2)
	assert.Equal(t, first.ID, wages[0].ID)
	require.NotNil(t, wages[0].Effective.To)
	assert.Equal(t, "2024-12-31", wages[0].Effective.To.String())
	assert.True(t, wages[1].Effective.IsOpen())
	assert.Equal(t, second.ID, wages[1].ID)

	amount, ok, err := svc.LookupWage(ctx, 1, d("2024-12-31"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, amount.Equal(dec("4960000")))

	amount, ok, err = svc.LookupWage(ctx, 1, d("2025-01-01"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, amount.Equal(dec("5200000")))
}

func TestUpsertWage_SameInputIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	first := upsertWage(t, svc, 2, "4410000", "2024-07-01")
	again := upsertWage(t, svc, 2, "4410000", "2024-07-01")

	assert.Equal(t, first.ID, again.ID)
	wages, err := svc.ListWages(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, wages, 1)
}

func TestUpsertWage_RejectsOverlaps(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	upsertWage(t, svc, 1, "4960000", "2024-07-01")

	cases := []struct {
		name   string
		amount string
		from   string
	}{
		{"same start different amount", "5000000", "2024-07-01"},
		{"retroactive start before open record", "4680000", "2024-01-01"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.UpsertWage(ctx, rates.UpsertWageInput{Region: 1, Amount: dec(tc.amount), EffectiveFrom: d(tc.from)})
			require.Error(t, err)
			assert.ErrorIs(t, err, generic.ErrConfiguration)
			var overlap *generic.OverlapError
			assert.ErrorAs(t, err, &overlap)
		})
	}

	// Nothing was committed by the rejected writes.
	wages, err := svc.ListWages(ctx, 1)
	require.NoError(t, err)
	require.Len(t, wages, 1)
	assert.True(t, wages[0].Effective.IsOpen())
}

func TestUpsertWage_Validation(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	cases := []rates.UpsertWageInput{
		{Region: 5, Amount: dec("1"), EffectiveFrom: d("2024-01-01")},
		{Region: 1, Amount: dec("0"), EffectiveFrom: d("2024-01-01")},
		{Region: 1, Amount: dec("-10"), EffectiveFrom: d("2024-01-01")},
		{Region: 1, Amount: dec("10")},
	}
	for _, in := range cases {
		_, err := svc.UpsertWage(ctx, in)
		assert.ErrorIs(t, err, generic.ErrValidation)
	}
}

func TestLookupWage_MissingIsNotZero(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	upsertWage(t, svc, 1, "4960000", "2024-07-01")

	_, ok, err := svc.LookupWage(ctx, 1, d("2024-06-30"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = svc.LookupWage(ctx, 3, d("2024-08-01"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.RequireWage(ctx, 3, d("2024-08-01"))
	var missing *generic.MissingRateError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, generic.Region(3), missing.Region)
	assert.ErrorIs(t, err, generic.ErrConfiguration)
}

func TestDeactivateWage_HidesRecordFromLookups(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	w := upsertWage(t, svc, 1, "4960000", "2024-07-01")

	// WHEN the record is deactivated
	out, err := svc.DeactivateWage(ctx, w.ID)
	require.NoError(t, err)
	assert.False(t, out.IsActive)

	// THEN it no longer answers lookups but stays in history
	_, ok, err := svc.LookupWage(ctx, 1, d("2024-08-01"))
	require.NoError(t, err)
	assert.False(t, ok)
	wages, err := svc.ListWages(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, wages, 1)

	// AND a corrected record can take its place
	upsertWage(t, svc, 1, "4980000", "2024-07-01")
	amount, ok, err := svc.LookupWage(ctx, 1, d("2024-08-01"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, amount.Equal(dec("4980000")))

	_, err = svc.DeactivateWage(ctx, "wage-missing")
	assert.True(t, generic.IsNotFound(err))
}

// =============================================================================
// GRADE TESTS
// =============================================================================

func TestUpsertGrade_LookupAndClose(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	_, err := svc.UpsertGrade(ctx, rates.UpsertGradeInput{
		PositionID: "DEV", Grade: 3, Coefficient: dec("1.20"), EffectiveFrom: d("2024-01-01"),
	})
	require.NoError(t, err)
	_, err = svc.UpsertGrade(ctx, rates.UpsertGradeInput{
		PositionID: "DEV", Grade: 3, Coefficient: dec("1.25"), EffectiveFrom: d("2024-10-01"),
	})
	require.NoError(t, err)

	coef, ok, err := svc.LookupGrade(ctx, "DEV", 3, d("2024-09-30"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, coef.Equal(dec("1.2")))

	coef, err = svc.RequireGrade(ctx, "DEV", 3, d("2024-10-01"))
	require.NoError(t, err)
	assert.True(t, coef.Equal(dec("1.25")))

	_, err = svc.RequireGrade(ctx, "DEV", 4, d("2024-10-01"))
	assert.ErrorIs(t, err, generic.ErrConfiguration)

	_, err = svc.UpsertGrade(ctx, rates.UpsertGradeInput{
		PositionID: "DEV", Grade: 8, Coefficient: dec("1"), EffectiveFrom: d("2024-01-01"),
	})
	assert.ErrorIs(t, err, generic.ErrValidation)

	grades, err := svc.ListGrades(ctx, "DEV")
	require.NoError(t, err)
	assert.Len(t, grades, 2)
}

// =============================================================================
// PROPERTY TESTS
// =============================================================================

// Any sequence of accepted inserts leaves the active records of a key
// pairwise disjoint with at most one open record.
func TestUpsertWage_RandomSequencesNeverOverlap(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	base := d("2020-01-01")

	for round := 0; round < 50; round++ {
		svc := newService(t)
		for i := 0; i < 12; i++ {
			from := base.AddDays(rng.Intn(2000))
			amount := decimal.NewFromInt(int64(4_000_000 + rng.Intn(4)*100_000))
			_, err := svc.UpsertWage(ctx, rates.UpsertWageInput{Region: 1, Amount: amount, EffectiveFrom: from})
			if err != nil {
				require.ErrorIs(t, err, generic.ErrConfiguration)
			}
			if rng.Intn(6) == 0 {
				wages, err := svc.ListWages(ctx, 1)
				require.NoError(t, err)
				if len(wages) > 0 {
					_, err := svc.DeactivateWage(ctx, wages[rng.Intn(len(wages))].ID)
					require.NoError(t, err)
				}
			}
		}

		wages, err := svc.ListWages(ctx, 1)
		require.NoError(t, err)
		assertDisjoint(t, wages)

		// Every probe date resolves to at most one record.
		for probe := 0; probe < 40; probe++ {
			_, _, err := svc.LookupWage(ctx, 1, base.AddDays(rng.Intn(2200)))
			require.NoError(t, err)
		}
	}
}

func TestUpsertWage_ConcurrentWritersKeepTableConsistent(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	base := d("2024-01-01")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.UpsertWage(ctx, rates.UpsertWageInput{
				Region: 1, Amount: decimal.NewFromInt(int64(4_000_000 + i)), EffectiveFrom: base.AddMonths(i),
			})
			if err != nil {
				assert.ErrorIs(t, err, generic.ErrConfiguration)
			}
		}(i)
	}
	wg.Wait()

	wages, err := svc.ListWages(ctx, 1)
	require.NoError(t, err)
	require.NotEmpty(t, wages)
	assertDisjoint(t, wages)
}

func assertDisjoint(t *testing.T, wages []rates.MinimumWage) {
	t.Helper()
	open := 0
	for i, a := range wages {
		if !a.IsActive {
			continue
		}
		if a.Effective.IsOpen() {
			open++
		}
		for _, b := range wages[i+1:] {
			if b.IsActive {
				assert.False(t, a.Effective.Overlaps(b.Effective), "%s overlaps %s", a.Effective, b.Effective)
			}
		}
	}
	assert.LessOrEqual(t, open, 1)
}
