package api

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/insurance-engine/generic"
)

func TestScheduler_RunOnceJoinsErrors(t *testing.T) {
	log, _ := test.NewNullLogger()
	s := NewScheduler(log)

	// GIVEN one healthy job and two failing ones
	var ran atomic.Int32
	s.AddJob("ok", time.Hour, func(context.Context) error { ran.Add(1); return nil })
	s.AddJob("bad-1", time.Hour, func(context.Context) error { ran.Add(1); return errors.New("boom") })
	s.AddJob("bad-2", time.Hour, func(context.Context) error { ran.Add(1); return generic.ErrConfiguration })

	// WHEN running them once
	err := s.RunOnce(context.Background())

	// THEN every job ran and both failures are reported
	assert.Equal(t, int32(3), ran.Load())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad-1: boom")
	assert.ErrorIs(t, err, generic.ErrConfiguration)
}

func TestScheduler_StartRunsImmediatelyAndStops(t *testing.T) {
	log, _ := test.NewNullLogger()
	s := NewScheduler(log)

	done := make(chan struct{}, 1)
	s.AddJob("tick", time.Hour, func(context.Context) error {
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})
	s.Start()
	s.Start() // second call is a no-op

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run on start")
	}
	s.Stop()
}

func TestRegisterEngineJobs(t *testing.T) {
	srv := newTestServer(t)
	log, _ := test.NewNullLogger()
	s := NewScheduler(log)

	// GIVEN the engine jobs registered against a clock in November 2024
	RegisterEngineJobs(s, srv.svc.Suggestions, srv.svc.Reports, srv.svc.Clock, Intervals{
		Scan: time.Hour, Sweep: time.Hour, Detect: time.Hour,
	})
	assert.Equal(t, []string{JobSuggestionScan, JobSuggestionSweep, JobChangeDetection}, s.Jobs())

	// WHEN they run
	require.NoError(t, s.RunOnce(context.Background()))

	// THEN detection created the current month's draft
	rec := srv.do(t, http.MethodGet, "/api/reports", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	reports := decodeBody[[]ReportDTO](t, rec)
	require.Len(t, reports, 1)
	assert.Equal(t, 2024, reports[0].Year)
	assert.Equal(t, 11, reports[0].Month)
	assert.Equal(t, "DRAFT", reports[0].Status)

	// WHEN the month is finalized the detection job becomes a no-op
	_, err := srv.svc.Reports.Finalize(context.Background(), reports[0].ID, "chief")
	require.NoError(t, err)
	assert.NoError(t, s.RunOnce(context.Background()))
}
