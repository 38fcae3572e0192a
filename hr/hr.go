/*
Package hr declares the HR subsystems the insurance engine reads from.

The engine owns none of this data. Employees, contracts, appendices,
absences and employment periods are maintained elsewhere and consumed
through the read-only interfaces below. store/memory, store/sqlite and
store/postgres each ship an implementation backed by their own tables so
the engine can run standalone.
*/
package hr

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/insurance-engine/generic"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

type Employee struct {
	ID       generic.EmployeeID
	Code     string
	FullName string
	Region   generic.Region
	HireDate generic.Date
}

// Directory lists the workforce.
type Directory interface {
	ListEmployees(ctx context.Context) ([]Employee, error)
	GetEmployee(ctx context.Context, id generic.EmployeeID) (*Employee, error)
}

// =============================================================================
// CONTRACTS
// =============================================================================

type ContractStatus string

const (
	ContractDraft      ContractStatus = "DRAFT"
	ContractActive     ContractStatus = "ACTIVE"
	ContractExpired    ContractStatus = "EXPIRED"
	ContractTerminated ContractStatus = "TERMINATED"
	ContractCancelled  ContractStatus = "CANCELLED"
)

// Coverage is the set of insurance schemes a contract enrolls the worker in.
type Coverage struct {
	Social       bool `json:"social"`
	Health       bool `json:"health"`
	Unemployment bool `json:"unemployment"`
}

// FullCoverage enrolls in all three schemes.
var FullCoverage = Coverage{Social: true, Health: true, Unemployment: true}

type Contract struct {
	ID              generic.DocumentID
	EmployeeID      generic.EmployeeID
	Status          ContractStatus
	Start           generic.Date
	End             *generic.Date
	TerminationDate *generic.Date
	InsuranceSalary *decimal.Decimal
	Coverage        Coverage
}

// Counts reports whether the contract can make its holder participate.
// Drafts and cancelled contracts never took effect.
func (c Contract) Counts() bool {
	return c.Status != ContractDraft && c.Status != ContractCancelled
}

// Stop is the last day the contract covers: the earlier of its end and
// termination dates, nil when neither is set.
func (c Contract) Stop() *generic.Date {
	switch {
	case c.End == nil && c.TerminationDate == nil:
		return nil
	case c.End == nil:
		return c.TerminationDate
	case c.TerminationDate == nil:
		return c.End
	default:
		d := generic.MinDate(*c.End, *c.TerminationDate)
		return &d
	}
}

// Range is the contract's coverage window.
func (c Contract) Range() generic.Range {
	return generic.Range{From: c.Start, To: c.Stop()}
}

// Appendix amends a contract from EffectiveDate on. Nil fields are unchanged.
type Appendix struct {
	ID              generic.DocumentID
	ContractID      generic.DocumentID
	EmployeeID      generic.EmployeeID
	EffectiveDate   generic.Date
	InsuranceSalary *decimal.Decimal
	PositionID      *generic.PositionID
	Grade           *generic.Grade
}

// ContractSource is the contract subsystem.
type ContractSource interface {
	ContractsForEmployee(ctx context.Context, employee generic.EmployeeID) ([]Contract, error)
	AppendicesForEmployee(ctx context.Context, employee generic.EmployeeID) ([]Appendix, error)
	GetAppendix(ctx context.Context, id generic.DocumentID) (*Appendix, error)
}

// =============================================================================
// ABSENCES
// =============================================================================

type AbsenceType string

const (
	AbsenceSick      AbsenceType = "SICK"
	AbsenceMaternity AbsenceType = "MATERNITY"
	AbsenceUnpaid    AbsenceType = "UNPAID"
	AbsenceAnnual    AbsenceType = "ANNUAL"
	AbsenceOther     AbsenceType = "OTHER"
)

type Absence struct {
	ID               string
	EmployeeID       generic.EmployeeID
	Type             AbsenceType
	Start            generic.Date
	End              generic.Date
	AffectsInsurance bool
	LeaveRequestID   string
}

// Days is the elapsed calendar length of the absence, both ends inclusive.
func (a Absence) Days() int {
	return generic.DaysBetween(a.Start, a.End) + 1
}

func (a Absence) Range() generic.Range {
	end := a.End
	return generic.Range{From: a.Start, To: &end}
}

// AbsenceSource is the leave/absence subsystem. Implementations return
// absences overlapping [from, to].
type AbsenceSource interface {
	AbsencesForEmployee(ctx context.Context, employee generic.EmployeeID, from, to generic.Date) ([]Absence, error)
}

// =============================================================================
// EMPLOYMENT PERIODS
// =============================================================================

type PeriodStatus string

const (
	PeriodActive PeriodStatus = "ACTIVE"
	PeriodEnded  PeriodStatus = "ENDED"
)

type EmploymentPeriod struct {
	ID         string
	EmployeeID generic.EmployeeID
	Start      generic.Date
	End        *generic.Date
	Status     PeriodStatus
}

func (p EmploymentPeriod) Range() generic.Range {
	return generic.Range{From: p.Start, To: p.End}
}

// EmploymentSource is the employment-period subsystem.
type EmploymentSource interface {
	PeriodsForEmployee(ctx context.Context, employee generic.EmployeeID) ([]EmploymentPeriod, error)
}

// Sources bundles every collaborator the detection engine reads.
type Sources struct {
	Directory  Directory
	Contracts  ContractSource
	Absences   AbsenceSource
	Employment EmploymentSource
}
