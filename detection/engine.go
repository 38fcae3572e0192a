package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/hr"
	"github.com/warp/insurance-engine/participation"
	"github.com/warp/insurance-engine/profile"
	"github.com/warp/insurance-engine/salary"
)

// ProfileHistory is the part of *profile.Ledger detection reads.
type ProfileHistory interface {
	History(ctx context.Context, employee generic.EmployeeID) ([]profile.Profile, error)
}

// Calculator is satisfied by *salary.Calculator.
type Calculator interface {
	CalculateForEmployee(ctx context.Context, employee generic.EmployeeID, region generic.Region, date generic.Date) (salary.Result, error)
}

type Engine struct {
	sources       hr.Sources
	participation participation.Store
	profiles      ProfileHistory
	calculator    Calculator
	policy        Policy
	log           logrus.FieldLogger
}

type Option func(*Engine)

func WithPolicy(p Policy) Option              { return func(e *Engine) { e.policy = p } }
func WithLogger(l logrus.FieldLogger) Option { return func(e *Engine) { e.log = l } }

func NewEngine(sources hr.Sources, part participation.Store, profiles ProfileHistory, calc Calculator, opts ...Option) *Engine {
	e := &Engine{
		sources:       sources,
		participation: part,
		profiles:      profiles,
		calculator:    calc,
		policy:        DefaultPolicy(),
		log:           logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.policy.Workers < 1 {
		e.policy.Workers = 1
	}
	e.log = e.log.WithField("component", "detection")
	return e
}

// Detect classifies every employee for (year, month). It does not write.
// Running it twice over unchanged inputs yields the same result.
func (e *Engine) Detect(ctx context.Context, year int, month time.Month) (*Result, error) {
	if err := generic.ValidateMonth(year, int(month)); err != nil {
		return nil, err
	}
	period := generic.MonthPeriod(year, month)

	employees, err := e.sources.Directory.ListEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}

	snaps := make([]Snapshot, len(employees))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.policy.Workers)
	for i, emp := range employees {
		i, emp := i, emp
		g.Go(func() error {
			snaps[i] = e.buildSnapshot(gctx, emp, period)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{Year: year, Month: month, Period: period, Scanned: len(employees)}
	for _, s := range snaps {
		if s.LoadErr != nil {
			e.log.WithError(s.LoadErr).WithField("employee_id", string(s.Employee.ID)).Warn("snapshot incomplete, flagged for review")
		}
		if c, ok := Classify(s, e.policy); ok {
			result.add(c)
		}
	}
	sortChanges(result.Increase)
	sortChanges(result.Decrease)
	sortChanges(result.Adjust)

	e.log.WithFields(logrus.Fields{
		"period":   period.Key(),
		"scanned":  result.Scanned,
		"increase": len(result.Increase),
		"decrease": len(result.Decrease),
		"adjust":   len(result.Adjust),
	}).Info("change detection complete")
	return result, nil
}
