/*
Package participation holds the insurance participation baseline.

A Participation record is what the organization currently reports to the
insurance authority for an employee. Change detection diffs the should-be
state of a month against the latest record that started before the month;
finalizing a report applies its approved changes back onto the baseline.
*/
package participation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/hr"
)

type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusSuspended  Status = "SUSPENDED"
	StatusTerminated Status = "TERMINATED"
)

type Participation struct {
	ID              string
	EmployeeID      generic.EmployeeID
	Start           generic.Date
	End             *generic.Date
	Coverage        hr.Coverage
	InsuranceSalary decimal.Decimal
	Status          Status
	SourceContract  *generic.DocumentID
	SourceAppendix  *generic.DocumentID
	SourceReport    string
	CreatedAt       time.Time
}

// Enrolled reports whether the record keeps the employee on the authority's books.
func (p Participation) Enrolled() bool {
	return p.Status == StatusActive || p.Status == StatusSuspended
}

// Store persists participation history.
type Store interface {
	// Latest returns the record with the greatest Start strictly before
	// `before`, or nil.
	Latest(ctx context.Context, employee generic.EmployeeID, before generic.Date) (*Participation, error)
	History(ctx context.Context, employee generic.EmployeeID) ([]Participation, error)
}

// Writer is the transactional write view used at report finalize.
type Writer interface {
	// Open returns the employee's record without an End, or nil.
	Open(ctx context.Context, employee generic.EmployeeID) (*Participation, error)
	Close(ctx context.Context, id string, end generic.Date, status Status) error
	Insert(ctx context.Context, p Participation) error
}

// =============================================================================
// CHANGE APPLICATION
// =============================================================================

type Action string

const (
	// ActionEnroll opens an ACTIVE record (new hire, return to work).
	ActionEnroll Action = "ENROLL"
	// ActionTerminate closes the open record as TERMINATED.
	ActionTerminate Action = "TERMINATE"
	// ActionSuspend closes the open record and opens a SUSPENDED one.
	ActionSuspend Action = "SUSPEND"
	// ActionReprice closes the open record and reopens ACTIVE with a new salary.
	ActionReprice Action = "REPRICE"
)

// Change is one approved change record translated for the baseline.
type Change struct {
	EmployeeID     generic.EmployeeID
	Action         Action
	EffectiveDate  generic.Date
	Salary         decimal.Decimal
	Coverage       hr.Coverage
	SourceContract *generic.DocumentID
	SourceAppendix *generic.DocumentID
	ReportID       string
}

// Apply writes c onto the baseline through w. The open record is closed on
// the day before the effective date; a record that started on or after it
// is closed on its own start day.
func Apply(ctx context.Context, w Writer, c Change, now time.Time) error {
	open, err := w.Open(ctx, c.EmployeeID)
	if err != nil {
		return err
	}

	closeOpen := func(status Status) error {
		if open == nil {
			return nil
		}
		end := c.EffectiveDate.AddDays(-1)
		if end.Before(open.Start) {
			end = open.Start
		}
		return w.Close(ctx, open.ID, end, status)
	}

	next := Participation{
		ID:              generic.NewID("part"),
		EmployeeID:      c.EmployeeID,
		Start:           c.EffectiveDate,
		Coverage:        c.Coverage,
		InsuranceSalary: c.Salary,
		SourceContract:  c.SourceContract,
		SourceAppendix:  c.SourceAppendix,
		SourceReport:    c.ReportID,
		CreatedAt:       now,
	}

	switch c.Action {
	case ActionEnroll, ActionReprice:
		if open != nil && c.Action == ActionReprice && c.Coverage == (hr.Coverage{}) {
			next.Coverage = open.Coverage
		}
		if err := closeOpen(open.statusOr(StatusActive)); err != nil {
			return err
		}
		next.Status = StatusActive
		return w.Insert(ctx, next)
	case ActionSuspend:
		if err := closeOpen(StatusActive); err != nil {
			return err
		}
		if open != nil {
			next.InsuranceSalary = open.InsuranceSalary
			next.Coverage = open.Coverage
		}
		next.Status = StatusSuspended
		return w.Insert(ctx, next)
	case ActionTerminate:
		if open == nil {
			return nil
		}
		end := c.EffectiveDate.AddDays(-1)
		if end.Before(open.Start) {
			end = open.Start
		}
		return w.Close(ctx, open.ID, end, StatusTerminated)
	default:
		return &generic.ValidationError{Field: "action", Message: "unknown participation action " + string(c.Action)}
	}
}

// statusOr keeps a closed record's status, nil-safe.
func (p *Participation) statusOr(def Status) Status {
	if p == nil {
		return def
	}
	return p.Status
}
