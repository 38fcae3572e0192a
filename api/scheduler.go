/*
scheduler.go - Periodic engine jobs

PURPOSE:
  Runs the engine's recurring work on fixed intervals:
  - grade-suggestion-scan:     seniority scan, creates PENDING suggestions
  - suggestion-expiry-sweep:   moves past-due PENDING suggestions to EXPIRED
  - monthly-change-detection:  regenerates the current month's DRAFT report

DESIGN:
  - One goroutine per job, each with its own ticker
  - Every job runs once immediately on start
  - Every job is idempotent; a failed run is logged and retried next tick
  - Stop cancels the shared job context and waits for in-flight runs

USAGE:
  s := NewScheduler(log)
  s.AddJob(JobSuggestionScan, 24*time.Hour, fn)
  s.Start()
  defer s.Stop()
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/report"
	"github.com/warp/insurance-engine/suggestion"
)

const (
	JobSuggestionScan  = "grade-suggestion-scan"
	JobSuggestionSweep = "suggestion-expiry-sweep"
	JobChangeDetection = "monthly-change-detection"
)

// Job is a named unit of recurring work.
type Job struct {
	Name     string
	Interval time.Duration
	Fn       func(ctx context.Context) error
}

type Scheduler struct {
	jobs    []Job
	log     logrus.FieldLogger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

func NewScheduler(log logrus.FieldLogger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		log:    log.WithField("component", "scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddJob registers a job. Jobs added after Start are not run.
func (s *Scheduler) AddJob(name string, interval time.Duration, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = append(s.jobs, Job{Name: name, Interval: interval, Fn: fn})
	s.log.WithFields(logrus.Fields{"job": name, "interval": interval}).Info("job registered")
}

// Jobs returns the registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.Name
	}
	return names
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.runJob(job)
	}
	s.log.WithField("job_count", len(s.jobs)).Info("scheduler started")
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) runJob(job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.execute(s.ctx, job)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.execute(s.ctx, job)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job Job) error {
	start := time.Now()
	logger := s.log.WithField("job", job.Name)
	if err := job.Fn(ctx); err != nil {
		logger.WithError(err).WithField("duration", time.Since(start)).Error("job failed")
		return fmt.Errorf("%s: %w", job.Name, err)
	}
	logger.WithField("duration", time.Since(start)).Debug("job completed")
	return nil
}

// RunOnce runs every job once, sequentially, and joins their errors.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	var errs []error
	for _, job := range jobs {
		if err := s.execute(ctx, job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// ENGINE JOBS
// =============================================================================

// Intervals configures how often each engine job runs.
type Intervals struct {
	Scan   time.Duration
	Sweep  time.Duration
	Detect time.Duration
}

// RegisterEngineJobs adds the three engine jobs to s.
func RegisterEngineJobs(s *Scheduler, suggestions *suggestion.Engine, reports *report.Service, clock generic.Clock, iv Intervals) {
	s.AddJob(JobSuggestionScan, iv.Scan, func(ctx context.Context) error {
		res, err := suggestions.Scan(ctx)
		if err != nil {
			return err
		}
		s.log.WithFields(logrus.Fields{
			"job":      JobSuggestionScan,
			"created":  len(res.Created),
			"eligible": res.Eligible,
			"skipped":  res.Skipped,
		}).Info("suggestion scan finished")
		return nil
	})

	s.AddJob(JobSuggestionSweep, iv.Sweep, func(ctx context.Context) error {
		expired, err := suggestions.SweepExpired(ctx)
		if err != nil {
			return err
		}
		if len(expired) > 0 {
			s.log.WithFields(logrus.Fields{"job": JobSuggestionSweep, "expired": len(expired)}).Info("suggestions expired")
		}
		return nil
	})

	s.AddJob(JobChangeDetection, iv.Detect, func(ctx context.Context) error {
		today := generic.Today(clock)
		_, err := reports.Generate(ctx, today.Year(), today.Month(), generic.SystemActor)
		// A finalized or exported month is done; nothing to regenerate.
		if errors.Is(err, generic.ErrStateConflict) {
			return nil
		}
		return err
	})
}
