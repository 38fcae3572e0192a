package detection

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/hr"
	"github.com/warp/insurance-engine/participation"
	"github.com/warp/insurance-engine/profile"
)

// Snapshot is everything the classifier needs for one employee and month.
// It is a value: classification reads it and nothing else.
type Snapshot struct {
	Employee   hr.Employee
	Period     generic.Period
	Contracts  []hr.Contract
	Appendices []hr.Appendix
	Absences   []hr.Absence
	Employment []hr.EmploymentPeriod
	Prior      *participation.Participation
	Profiles   []profile.Profile

	// ProfileSalary is the calculator's answer at Period.End; ProfileSalaryErr
	// is set instead when it failed.
	ProfileSalary    *decimal.Decimal
	ProfileSalaryErr error

	// LoadErr is set when a collaborator failed; the other fields may be partial.
	LoadErr error
}

// buildSnapshot reads every collaborator for one employee. It never fails:
// a load error is recorded on the snapshot so the batch can continue.
func (e *Engine) buildSnapshot(ctx context.Context, emp hr.Employee, period generic.Period) Snapshot {
	s := Snapshot{Employee: emp, Period: period}

	fail := func(what string, err error) Snapshot {
		s.LoadErr = fmt.Errorf("load %s for %s: %w", what, emp.ID, err)
		return s
	}

	var err error
	if s.Contracts, err = e.sources.Contracts.ContractsForEmployee(ctx, emp.ID); err != nil {
		return fail("contracts", err)
	}
	if s.Appendices, err = e.sources.Contracts.AppendicesForEmployee(ctx, emp.ID); err != nil {
		return fail("appendices", err)
	}
	if s.Absences, err = e.sources.Absences.AbsencesForEmployee(ctx, emp.ID, period.Start, period.End); err != nil {
		return fail("absences", err)
	}
	if e.sources.Employment != nil {
		if s.Employment, err = e.sources.Employment.PeriodsForEmployee(ctx, emp.ID); err != nil {
			return fail("employment periods", err)
		}
	}
	if s.Prior, err = e.participation.Latest(ctx, emp.ID, period.Start); err != nil {
		return fail("participation", err)
	}
	if s.Profiles, err = e.profiles.History(ctx, emp.ID); err != nil {
		return fail("profile history", err)
	}

	if len(s.Profiles) > 0 {
		res, err := e.calculator.CalculateForEmployee(ctx, emp.ID, emp.Region, period.End)
		if err != nil {
			s.ProfileSalaryErr = err
		} else {
			s.ProfileSalary = &res.Salary
		}
	} else {
		s.ProfileSalaryErr = &generic.NotFoundError{Kind: "profile", ID: string(emp.ID)}
	}
	return s
}
