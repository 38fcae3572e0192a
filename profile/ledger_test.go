package profile_test

import (
	"context"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/insurance-engine/events"
	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/profile"
	"github.com/warp/insurance-engine/store/memory"
)

func d(s string) generic.Date { return generic.MustParseDate(s) }

func pos(s string) *generic.PositionID {
	p := generic.PositionID(s)
	return &p
}

func newLedger(t *testing.T) (*profile.Ledger, *events.Recorder) {
	t.Helper()
	log, _ := test.NewNullLogger()
	rec := events.NewRecorder()
	return profile.NewLedger(memory.New().Profiles(),
		profile.WithPublisher(rec),
		profile.WithLogger(log),
	), rec
}

func initial(t *testing.T, l *profile.Ledger, emp generic.EmployeeID, grade generic.Grade, from string) *profile.Profile {
	t.Helper()
	p, err := l.ApplyChange(context.Background(), profile.ChangeInput{
		EmployeeID:    emp,
		Grade:         grade,
		PositionID:    pos("DEV"),
		Reason:        profile.ReasonInitial,
		EffectiveDate: d(from),
		Actor:         "hr-admin",
	})
	require.NoError(t, err)
	return p
}

// =============================================================================
// APPLY CHANGE
// =============================================================================

func TestApplyChange_ClosesCurrentSliceDayBefore(t *testing.T) {
	ctx := context.Background()
	l, rec := newLedger(t)

	// GIVEN employee E1 at grade 2 since 2024-01-01
	first := initial(t, l, "E1", 2, "2024-01-01")

	// WHEN a seniority change to grade 3 takes effect on 2024-10-15
	doc := generic.DocumentID("APX-7")
	next, err := l.ApplyChange(ctx, profile.ChangeInput{
		EmployeeID:     "E1",
		Grade:          3,
		Reason:         profile.ReasonSeniority,
		EffectiveDate:  d("2024-10-15"),
		SourceDocument: &doc,
		Actor:          "hr-admin",
	})
	require.NoError(t, err)

	// THEN history has two contiguous slices and the new one is current
	history, err := l.History(ctx, "E1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[0].ID)
	require.NotNil(t, history[0].Applied.To)
	assert.Equal(t, "2024-10-14", history[0].Applied.To.String())
	assert.Equal(t, next.ID, history[1].ID)
	assert.True(t, history[1].IsCurrent())

	// AND position carries over when not given
	assert.Equal(t, generic.PositionID("DEV"), next.Position())
	assert.Equal(t, generic.Grade(3), next.Grade)

	current, err := l.GetCurrent(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, next.ID, current.ID)

	asOf, err := l.AsOf(ctx, "E1", d("2024-10-14"))
	require.NoError(t, err)
	assert.Equal(t, generic.Grade(2), asOf.Grade)
	asOf, err = l.AsOf(ctx, "E1", d("2024-10-15"))
	require.NoError(t, err)
	assert.Equal(t, generic.Grade(3), asOf.Grade)

	// AND one event per applied change
	evs := rec.OfType(generic.EventProfileChanged)
	require.Len(t, evs, 2)
	assert.Equal(t, generic.EmployeeID("E1"), evs[1].EmployeeID)
	assert.Equal(t, "APX-7", evs[1].Payload["source_document"])
}

func TestApplyChange_InvariantViolations(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)
	initial(t, l, "E1", 2, "2024-06-01")

	cases := []struct {
		name string
		in   profile.ChangeInput
	}{
		{"second initial", profile.ChangeInput{EmployeeID: "E1", Reason: profile.ReasonInitial, EffectiveDate: d("2024-09-01")}},
		{"same day as current start", profile.ChangeInput{EmployeeID: "E1", Grade: 3, Reason: profile.ReasonPromotion, EffectiveDate: d("2024-06-01")}},
		{"backdated before current start", profile.ChangeInput{EmployeeID: "E1", Grade: 3, Reason: profile.ReasonAdjustment, EffectiveDate: d("2024-01-01")}},
		{"first slice not initial", profile.ChangeInput{EmployeeID: "E2", Grade: 3, Reason: profile.ReasonSeniority, EffectiveDate: d("2024-01-01")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.ApplyChange(ctx, tc.in)
			assert.ErrorIs(t, err, generic.ErrInvariantViolation)
		})
	}

	history, err := l.History(ctx, "E1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestApplyChange_Validation(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	cases := []profile.ChangeInput{
		{Reason: profile.ReasonInitial, EffectiveDate: d("2024-01-01")},
		{EmployeeID: "E1", Reason: "PROMOTED", EffectiveDate: d("2024-01-01")},
		{EmployeeID: "E1", Grade: 9, Reason: profile.ReasonInitial, EffectiveDate: d("2024-01-01")},
		{EmployeeID: "E1", Reason: profile.ReasonInitial},
	}
	for _, in := range cases {
		_, err := l.ApplyChange(ctx, in)
		assert.ErrorIs(t, err, generic.ErrValidation)
	}
}

func TestApplyChange_BackfillOpensLedgerAtGradeOne(t *testing.T) {
	l, _ := newLedger(t)

	p, err := l.ApplyChange(context.Background(), profile.ChangeInput{
		EmployeeID: "E9", Reason: profile.ReasonBackfill, EffectiveDate: d("2023-03-01"),
	})
	require.NoError(t, err)
	assert.Equal(t, generic.MinGrade, p.Grade)
	assert.Equal(t, generic.SystemActor, p.CreatedBy)
	assert.Nil(t, p.PositionID)
}

func TestGetCurrent_UnknownEmployee(t *testing.T) {
	l, _ := newLedger(t)

	_, err := l.GetCurrent(context.Background(), "nobody")
	assert.True(t, generic.IsNotFound(err))

	initial(t, l, "E1", 1, "2024-05-01")
	_, err = l.AsOf(context.Background(), "E1", d("2024-04-30"))
	assert.True(t, generic.IsNotFound(err))
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestApplyChange_ConcurrentChangesKeepOneCurrentSlice(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)
	initial(t, l, "E1", 1, "2024-01-01")

	// WHEN many changes race for the same employee
	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.ApplyChange(ctx, profile.ChangeInput{
				EmployeeID:    "E1",
				Grade:         generic.Grade(1 + i%7),
				Reason:        profile.ReasonAdjustment,
				EffectiveDate: d("2024-01-01").AddDays(i * 10),
			})
			if err != nil {
				assert.ErrorIs(t, err, generic.ErrInvariantViolation)
			}
		}(i)
	}
	wg.Wait()

	// THEN the ledger is contiguous with exactly one open slice
	history, err := l.History(ctx, "E1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(history), 2)
	open := 0
	for i, p := range history {
		if p.IsCurrent() {
			open++
			continue
		}
		require.Less(t, i+1, len(history))
		assert.True(t, p.Applied.To.AddDays(1).Equal(history[i+1].Applied.From))
	}
	assert.Equal(t, 1, open)
}

func TestListCurrent_OnlyOpenSlices(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)
	initial(t, l, "E1", 1, "2024-01-01")
	initial(t, l, "E2", 4, "2024-02-01")
	_, err := l.ApplyChange(ctx, profile.ChangeInput{EmployeeID: "E1", Grade: 2, Reason: profile.ReasonSeniority, EffectiveDate: d("2024-06-01")})
	require.NoError(t, err)

	current, err := l.ListCurrent(ctx)
	require.NoError(t, err)
	require.Len(t, current, 2)
	for _, p := range current {
		assert.True(t, p.IsCurrent())
	}
}
