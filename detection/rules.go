package detection

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/hr"
	"github.com/warp/insurance-engine/participation"
	"github.com/warp/insurance-engine/profile"
)

// =============================================================================
// FACTS - What the snapshot says about the month
// =============================================================================

type facts struct {
	snap   Snapshot
	period generic.Period

	prior         *participation.Participation
	priorActive   bool
	priorSuspends bool

	contract     *hr.Contract
	stop         *generic.Date // covering contract's last day, nil if open
	stopsInMonth bool          // covering contract ends within the month with no successor

	employmentKnown  bool
	employmentCovers bool
	employmentEnd    *generic.Date // set when the employment period ended within the month

	startingAbsence *hr.Absence   // qualifying absence starting within the month
	absenceAtStart  *hr.Absence   // qualifying absence already running on the 1st
	absenceAtEnd    bool          // qualifying absence still running on the last day
	lastAbsenceEnd  *generic.Date // latest qualifying absence end inside the month
}

func deriveFacts(s Snapshot, policy Policy) facts {
	f := facts{snap: s, period: s.Period, prior: s.Prior}
	if s.Prior != nil {
		f.priorActive = s.Prior.Status == participation.StatusActive
		f.priorSuspends = s.Prior.Status == participation.StatusSuspended
	}

	f.contract = coveringContract(s.Contracts, s.Period)
	if f.contract != nil {
		f.stop = f.contract.Stop()
		if f.stop != nil && f.stop.BeforeOrEqual(s.Period.End) && !hasSuccessor(s.Contracts, *f.contract, *f.stop) {
			f.stopsInMonth = true
		}
	}

	if len(s.Employment) > 0 {
		f.employmentKnown = true
		coversEnd := false
		for _, p := range s.Employment {
			r := p.Range()
			if r.OverlapsPeriod(s.Period) {
				f.employmentCovers = true
			}
			if r.Contains(s.Period.End) {
				coversEnd = true
			}
		}
		if f.employmentCovers && !coversEnd {
			for _, p := range s.Employment {
				if p.End != nil && s.Period.Contains(*p.End) && (f.employmentEnd == nil || p.End.After(*f.employmentEnd)) {
					end := *p.End
					f.employmentEnd = &end
				}
			}
		}
	}

	for i := range s.Absences {
		a := s.Absences[i]
		if !policy.Qualifies(a) || !a.Range().OverlapsPeriod(s.Period) {
			continue
		}
		if s.Period.Contains(a.Start) && (f.startingAbsence == nil || a.Start.Before(f.startingAbsence.Start)) {
			f.startingAbsence = &a
		}
		if a.Range().Contains(s.Period.Start) && a.Start.Before(s.Period.Start) {
			f.absenceAtStart = &a
		}
		if a.Range().Contains(s.Period.End) {
			f.absenceAtEnd = true
		}
		if s.Period.Contains(a.End) && (f.lastAbsenceEnd == nil || a.End.After(*f.lastAbsenceEnd)) {
			end := a.End
			f.lastAbsenceEnd = &end
		}
	}
	return f
}

// coveringContract picks the counting contract overlapping the period with
// the latest start.
func coveringContract(contracts []hr.Contract, period generic.Period) *hr.Contract {
	var best *hr.Contract
	for i := range contracts {
		c := contracts[i]
		if !c.Counts() || !c.Range().OverlapsPeriod(period) {
			continue
		}
		if best == nil || c.Start.After(best.Start) {
			best = &c
		}
	}
	return best
}

// hasSuccessor reports whether another counting contract picks up the day after stop.
func hasSuccessor(contracts []hr.Contract, current hr.Contract, stop generic.Date) bool {
	next := stop.AddDays(1)
	for _, c := range contracts {
		if c.ID == current.ID || !c.Counts() {
			continue
		}
		if c.Start.After(current.Start) && c.Start.BeforeOrEqual(next) && c.Range().Contains(next) {
			return true
		}
	}
	return false
}

// =============================================================================
// SALARY RESOLUTION
// =============================================================================

// resolvedSalary is the insurance salary in force at date: whichever source
// took effect most recently on or before date. Sources are the latest
// appendix carrying a salary, the covering contract and the profile slice
// priced by the calculator. On the same day an appendix beats the contract
// and the contract beats the profile.
type resolvedSalary struct {
	amount     *decimal.Decimal
	appendixID *generic.DocumentID
	err        error
}

func (f facts) salaryAt(date generic.Date) resolvedSalary {
	var (
		best     resolvedSalary
		bestFrom generic.Date
		found    bool
	)
	take := func(from generic.Date, r resolvedSalary) {
		if !found || from.After(bestFrom) {
			best, bestFrom, found = r, from, true
		}
	}

	var latest *hr.Appendix
	for i := range f.snap.Appendices {
		a := f.snap.Appendices[i]
		if a.InsuranceSalary == nil || a.EffectiveDate.After(date) {
			continue
		}
		if f.contract != nil && a.ContractID != "" && a.ContractID != f.contract.ID {
			continue
		}
		if latest == nil || a.EffectiveDate.After(latest.EffectiveDate) {
			latest = &a
		}
	}
	if latest != nil {
		id := latest.ID
		take(latest.EffectiveDate, resolvedSalary{amount: latest.InsuranceSalary, appendixID: &id})
	}
	if f.contract != nil && f.contract.InsuranceSalary != nil && !f.contract.Start.After(date) {
		take(f.contract.Start, resolvedSalary{amount: f.contract.InsuranceSalary})
	}
	if slice := f.sliceAt(date); slice != nil {
		// A failed pricing only surfaces when the slice is the newest source.
		take(slice.Applied.From, resolvedSalary{amount: f.snap.ProfileSalary, err: f.snap.ProfileSalaryErr})
	}

	if found && (best.amount != nil || best.err != nil) {
		return best
	}
	err := f.snap.ProfileSalaryErr
	if err == nil {
		err = fmt.Errorf("no insurance salary source for employee %s", f.snap.Employee.ID)
	}
	return resolvedSalary{err: err}
}

// sliceAt returns the profile slice covering date, or nil.
func (f facts) sliceAt(date generic.Date) *profile.Profile {
	for i := range f.snap.Profiles {
		if f.snap.Profiles[i].Applied.Contains(date) {
			return &f.snap.Profiles[i]
		}
	}
	return nil
}

// salaryEventIn returns the latest date inside the month on which the salary
// source changed, or the month start.
func (f facts) salaryEventIn() generic.Date {
	eff := f.period.Start
	consider := func(d generic.Date) {
		if f.period.Contains(d) && d.After(eff) {
			eff = d
		}
	}
	for _, a := range f.snap.Appendices {
		if a.InsuranceSalary != nil || a.PositionID != nil || a.Grade != nil {
			consider(a.EffectiveDate)
		}
	}
	for _, p := range f.snap.Profiles {
		consider(p.Applied.From)
	}
	if f.contract != nil {
		consider(f.contract.Start)
	}
	return eff
}

// =============================================================================
// RULES - Ranked, first match wins
// =============================================================================

// Rule is one named classification. Match returns ok=false when the rule
// does not apply.
type Rule struct {
	Reason Reason
	Match  func(f facts) (Change, bool)
}

// Rules is evaluated in order. Priority is position in the slice.
var Rules = []Rule{
	{ReasonTermination, matchTermination},
	{ReasonLongAbsence, matchLongAbsence},
	{ReasonNewHire, matchNewHire},
	{ReasonReturnToWork, matchReturnToWork},
	{ReasonSalaryChange, matchSalaryChange},
}

func matchTermination(f facts) (Change, bool) {
	if !f.priorActive && !f.priorSuspends {
		return Change{}, false
	}
	var eff generic.Date
	switch {
	case f.contract == nil:
		eff = f.period.Start
	case f.stopsInMonth:
		eff = f.stop.AddDays(1)
	case f.employmentEnd != nil:
		eff = f.employmentEnd.AddDays(1)
	default:
		return Change{}, false
	}
	c := f.base(ChangeDecrease, ReasonTermination, eff)
	c.Salary = f.priorSalary()
	c.Coverage = f.prior.Coverage
	return c, true
}

func matchLongAbsence(f facts) (Change, bool) {
	if f.contract == nil || f.startingAbsence == nil {
		return Change{}, false
	}
	if !f.priorActive && !newHireEligible(f) {
		return Change{}, false
	}
	c := f.base(ChangeDecrease, ReasonLongAbsence, f.startingAbsence.Start)
	c.LeaveRequestID = f.startingAbsence.LeaveRequestID
	if f.priorActive {
		c.Salary = f.priorSalary()
		return c, true
	}
	return f.withSalary(c)
}

func matchNewHire(f facts) (Change, bool) {
	if !newHireEligible(f) {
		return Change{}, false
	}
	c := f.base(ChangeIncrease, ReasonNewHire, generic.MaxDate(f.contract.Start, f.period.Start))
	return f.withSalary(c)
}

func newHireEligible(f facts) bool {
	if f.priorActive || f.priorSuspends || f.contract == nil || f.stopsInMonth {
		return false
	}
	return !f.employmentKnown || f.employmentCovers
}

func matchReturnToWork(f facts) (Change, bool) {
	if !f.priorSuspends || f.contract == nil || f.absenceAtEnd {
		return Change{}, false
	}
	eff := f.period.Start
	if f.lastAbsenceEnd != nil {
		eff = f.lastAbsenceEnd.AddDays(1)
	}
	c := f.base(ChangeIncrease, ReasonReturnToWork, eff)
	return f.withSalary(c)
}

func matchSalaryChange(f facts) (Change, bool) {
	if !f.priorActive || f.contract == nil || f.absenceAtStart != nil {
		return Change{}, false
	}
	res := f.salaryAt(f.period.End)
	if res.err != nil {
		c := f.base(ChangeAdjust, ReasonOther, f.period.Start)
		c.Note = "salary change check failed: " + res.err.Error()
		return c, true
	}
	if res.amount.Equal(f.prior.InsuranceSalary) {
		return Change{}, false
	}
	c := f.base(ChangeAdjust, ReasonSalaryChange, f.salaryEventIn())
	c.Salary = res.amount
	c.AppendixID = res.appendixID
	return c, true
}

// matchOther flags states that disagree with the baseline but that no
// ranked rule explains.
func matchOther(f facts) (Change, bool) {
	switch {
	case !f.priorActive && !f.priorSuspends && f.contract != nil && f.stopsInMonth:
		c := f.base(ChangeAdjust, ReasonOther, generic.MaxDate(f.contract.Start, f.period.Start))
		c.Note = fmt.Sprintf("contract %s starts and stops within %s", f.contract.ID, f.period.Key())
		return c, true
	case !f.priorActive && !f.priorSuspends && f.contract != nil && f.employmentKnown && !f.employmentCovers:
		c := f.base(ChangeAdjust, ReasonOther, generic.MaxDate(f.contract.Start, f.period.Start))
		c.Note = fmt.Sprintf("contract %s has no employment period in %s", f.contract.ID, f.period.Key())
		return c, true
	case f.priorActive && f.contract != nil && f.absenceAtStart != nil:
		c := f.base(ChangeDecrease, ReasonOther, f.period.Start)
		c.Salary = f.priorSalary()
		c.LeaveRequestID = f.absenceAtStart.LeaveRequestID
		c.Note = fmt.Sprintf("participation is active but a qualifying absence has run since %s", f.absenceAtStart.Start)
		return c, true
	}
	return Change{}, false
}

// base fills the fields every rule shares.
func (f facts) base(t ChangeType, r Reason, eff generic.Date) Change {
	c := Change{
		EmployeeID:    f.snap.Employee.ID,
		Type:          t,
		Reason:        r,
		EffectiveDate: eff,
		PriorSalary:   f.priorSalary(),
	}
	if f.contract != nil {
		id := f.contract.ID
		c.ContractID = &id
		c.Coverage = f.contract.Coverage
	} else if f.prior != nil {
		c.Coverage = f.prior.Coverage
	}
	return c
}

// withSalary attaches the resolved salary at month end. When it cannot be
// resolved the change keeps its reason with no salary and the failure as note,
// so the reviewer has to adjust it.
func (f facts) withSalary(c Change) (Change, bool) {
	res := f.salaryAt(f.period.End)
	if res.err != nil {
		c.Note = fmt.Sprintf("insurance salary unresolved: %v", res.err)
		return c, true
	}
	c.Salary = res.amount
	c.AppendixID = res.appendixID
	return c, true
}

func (f facts) priorSalary() *decimal.Decimal {
	if f.prior == nil {
		return nil
	}
	s := f.prior.InsuranceSalary
	return &s
}

// =============================================================================
// CLASSIFY
// =============================================================================

// Classify runs the ranked rules over one snapshot. ok is false when the
// employee's state agrees with the baseline.
func Classify(s Snapshot, policy Policy) (Change, bool) {
	if s.LoadErr != nil {
		c := Change{
			EmployeeID:    s.Employee.ID,
			Type:          ChangeAdjust,
			Reason:        ReasonOther,
			EffectiveDate: s.Period.Start,
			Note:          s.LoadErr.Error(),
		}
		return c, true
	}

	f := deriveFacts(s, policy)
	for _, rule := range Rules {
		if c, ok := rule.Match(f); ok {
			return c, true
		}
	}
	return matchOther(f)
}

func sortChanges(cs []Change) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].EmployeeID < cs[j].EmployeeID })
}
