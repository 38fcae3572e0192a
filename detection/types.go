/*
Package detection is the Change Detection Engine.

PURPOSE:
  For a report month, derive each employee's should-be insurance state from
  the HR subsystems and diff it against the participation baseline recorded
  before the month. Every difference becomes a classified Change.

PIPELINE:
  1. Build a read-only Snapshot per employee (contracts, appendices,
     absences, employment periods, prior participation, profile salary).
     Snapshots are loaded concurrently with a bounded worker group.
  2. Derive facts from the snapshot. Pure.
  3. Evaluate the ranked rule list; the first matching rule wins.
  4. Anything inconsistent that no rule claimed is OTHER, for manual review.

RULE PRIORITY:
  TERMINATION > LONG_ABSENCE > NEW_HIRE > RETURN_TO_WORK > SALARY_CHANGE

  A worker who is newly hired and immediately on long leave is classified by
  the absence.

LONG ABSENCE:
  Elapsed calendar days of the absence window (end - start + 1) >= threshold,
  with AffectsInsurance set and a qualifying absence type.

Detection never writes. The report workflow persists the result.
*/
package detection

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/hr"
)

type ChangeType string

const (
	ChangeIncrease ChangeType = "INCREASE"
	ChangeDecrease ChangeType = "DECREASE"
	ChangeAdjust   ChangeType = "ADJUST"
)

func (t ChangeType) Valid() bool {
	return t == ChangeIncrease || t == ChangeDecrease || t == ChangeAdjust
}

// Reason is the inferred cause of a change.
type Reason string

const (
	ReasonNewHire      Reason = "NEW_HIRE"
	ReasonTermination  Reason = "TERMINATION"
	ReasonLongAbsence  Reason = "LONG_ABSENCE"
	ReasonSalaryChange Reason = "SALARY_CHANGE"
	ReasonReturnToWork Reason = "RETURN_TO_WORK"
	ReasonOther        Reason = "OTHER"
)

// Change is one detected difference for one employee.
type Change struct {
	EmployeeID     generic.EmployeeID
	Type           ChangeType
	Reason         Reason
	EffectiveDate  generic.Date
	Salary         *decimal.Decimal // nil when the salary could not be resolved
	PriorSalary    *decimal.Decimal
	Coverage       hr.Coverage
	ContractID     *generic.DocumentID
	AppendixID     *generic.DocumentID
	LeaveRequestID string
	Note           string
}

// Result groups a month's changes by type, each ordered by employee.
type Result struct {
	Year     int
	Month    time.Month
	Period   generic.Period
	Scanned  int
	Increase []Change
	Decrease []Change
	Adjust   []Change
}

// All returns every change, increases first.
func (r *Result) All() []Change {
	out := make([]Change, 0, len(r.Increase)+len(r.Decrease)+len(r.Adjust))
	out = append(out, r.Increase...)
	out = append(out, r.Decrease...)
	return append(out, r.Adjust...)
}

func (r *Result) add(c Change) {
	switch c.Type {
	case ChangeIncrease:
		r.Increase = append(r.Increase, c)
	case ChangeDecrease:
		r.Decrease = append(r.Decrease, c)
	default:
		r.Adjust = append(r.Adjust, c)
	}
}

// Policy holds the detection thresholds.
type Policy struct {
	LongAbsenceDays int
	QualifyingTypes []hr.AbsenceType
	Workers         int
}

func DefaultPolicy() Policy {
	return Policy{
		LongAbsenceDays: 30,
		QualifyingTypes: []hr.AbsenceType{hr.AbsenceSick, hr.AbsenceMaternity, hr.AbsenceUnpaid},
		Workers:         8,
	}
}

// Qualifies reports whether a suspends insurance participation.
func (p Policy) Qualifies(a hr.Absence) bool {
	if !a.AffectsInsurance || a.Days() < p.LongAbsenceDays {
		return false
	}
	for _, t := range p.QualifyingTypes {
		if t == a.Type {
			return true
		}
	}
	return false
}
