/*
Package report is the Monthly Report & Approval Workflow.

PURPOSE:
  Collects the month's detected changes into one report per (year, month),
  routes every change record through human approval, and locks the report
  once nothing is left pending. A finalized report can be exported any
  number of times; it is never re-finalized.

REPORT STATES:
  DRAFT --finalize (no PENDING records)--> FINALIZED (terminal)

RECORD STATES:
  PENDING --approve---------------------> APPROVED
  PENDING --reject (note)---------------> REJECTED
  PENDING --adjust (salary + reason)----> ADJUSTED
  Only APPROVED and ADJUSTED records count toward totals and export.

CONCURRENCY:
  - Report creation is exclusive per period (singleflight + unique store key).
  - Decisions on distinct records run concurrently (read side of the report gate).
  - Finalize takes the write side, and the store re-checks every
    precondition inside the finalize transaction. A decision racing a
    finalize either lands first and is counted, or fails with a state conflict.
*/
package report

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/insurance-engine/detection"
	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/hr"
)

type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusFinalized Status = "FINALIZED"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
	ApprovalAdjusted ApprovalStatus = "ADJUSTED"
)

var approvalTransitions = map[ApprovalStatus][]ApprovalStatus{
	ApprovalPending: {ApprovalApproved, ApprovalRejected, ApprovalAdjusted},
}

func (s ApprovalStatus) CanTransition(next ApprovalStatus) bool {
	for _, allowed := range approvalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Counts reports whether a record in this status is exported.
func (s ApprovalStatus) Counts() bool {
	return s == ApprovalApproved || s == ApprovalAdjusted
}

// Totals are the report's aggregate counters.
type Totals struct {
	TotalIncrease        int             `json:"total_increase"`
	TotalDecrease        int             `json:"total_decrease"`
	TotalAdjust          int             `json:"total_adjust"`
	ApprovedIncrease     int             `json:"approved_increase"`
	ApprovedDecrease     int             `json:"approved_decrease"`
	ApprovedAdjust       int             `json:"approved_adjust"`
	Pending              int             `json:"pending"`
	Rejected             int             `json:"rejected"`
	TotalInsuranceSalary decimal.Decimal `json:"total_insurance_salary"`
}

type Report struct {
	ID          string
	Year        int
	Month       time.Month
	Status      Status
	Totals      Totals
	ExportPath  string
	ExportedAt  *time.Time
	ExportedBy  string
	FinalizedAt *time.Time
	FinalizedBy string
	CreatedBy   string
	CreatedAt   time.Time
}

func (r Report) Period() generic.Period { return generic.MonthPeriod(r.Year, r.Month) }

// ChangeRecord is one detected change awaiting or past its decision.
type ChangeRecord struct {
	ID              string
	ReportID        string
	EmployeeID      generic.EmployeeID
	ChangeType      detection.ChangeType
	AutoReason      detection.Reason
	EffectiveDate   generic.Date
	InsuranceSalary *decimal.Decimal
	PriorSalary     *decimal.Decimal
	Coverage        hr.Coverage
	ContractID      *generic.DocumentID
	AppendixID      *generic.DocumentID
	LeaveRequestID  string
	DetectionNote   string

	ApprovalStatus ApprovalStatus
	AdjustedSalary *decimal.Decimal
	AdjustReason   string
	DecisionNote   string
	DecidedBy      string
	DecidedAt      *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveSalary is the adjusted salary for ADJUSTED records, the computed
// one otherwise. Nil when neither is known.
func (r ChangeRecord) EffectiveSalary() *decimal.Decimal {
	if r.ApprovalStatus == ApprovalAdjusted && r.AdjustedSalary != nil {
		return r.AdjustedSalary
	}
	return r.InsuranceSalary
}

// recordFromChange builds a PENDING record for a detected change.
func recordFromChange(reportID string, c detection.Change, now time.Time) ChangeRecord {
	return ChangeRecord{
		ID:              generic.NewID("rec"),
		ReportID:        reportID,
		EmployeeID:      c.EmployeeID,
		ChangeType:      c.Type,
		AutoReason:      c.Reason,
		EffectiveDate:   c.EffectiveDate,
		InsuranceSalary: c.Salary,
		PriorSalary:     c.PriorSalary,
		Coverage:        c.Coverage,
		ContractID:      c.ContractID,
		AppendixID:      c.AppendixID,
		LeaveRequestID:  c.LeaveRequestID,
		DetectionNote:   c.Note,
		ApprovalStatus:  ApprovalPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// refresh copies the detected content of c onto r. It reports whether
// anything changed.
func (r *ChangeRecord) refresh(c detection.Change) bool {
	next := *r
	next.ChangeType = c.Type
	next.AutoReason = c.Reason
	next.EffectiveDate = c.EffectiveDate
	next.InsuranceSalary = c.Salary
	next.PriorSalary = c.PriorSalary
	next.Coverage = c.Coverage
	next.ContractID = c.ContractID
	next.AppendixID = c.AppendixID
	next.LeaveRequestID = c.LeaveRequestID
	next.DetectionNote = c.Note
	if sameDetection(*r, next) {
		return false
	}
	*r = next
	return true
}

func sameDetection(a, b ChangeRecord) bool {
	return a.ChangeType == b.ChangeType &&
		a.AutoReason == b.AutoReason &&
		a.EffectiveDate.Equal(b.EffectiveDate) &&
		equalDecimal(a.InsuranceSalary, b.InsuranceSalary) &&
		equalDecimal(a.PriorSalary, b.PriorSalary) &&
		a.Coverage == b.Coverage &&
		equalDoc(a.ContractID, b.ContractID) &&
		equalDoc(a.AppendixID, b.AppendixID) &&
		a.LeaveRequestID == b.LeaveRequestID &&
		a.DetectionNote == b.DetectionNote
}

func equalDecimal(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func equalDoc(a, b *generic.DocumentID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ComputeTotals aggregates records. Salary totals use EffectiveSalary of
// APPROVED and ADJUSTED records only.
func ComputeTotals(records []ChangeRecord) Totals {
	t := Totals{TotalInsuranceSalary: decimal.Zero}
	for _, r := range records {
		counted := r.ApprovalStatus.Counts()
		switch r.ChangeType {
		case detection.ChangeIncrease:
			t.TotalIncrease++
			if counted {
				t.ApprovedIncrease++
			}
		case detection.ChangeDecrease:
			t.TotalDecrease++
			if counted {
				t.ApprovedDecrease++
			}
		case detection.ChangeAdjust:
			t.TotalAdjust++
			if counted {
				t.ApprovedAdjust++
			}
		}
		switch r.ApprovalStatus {
		case ApprovalPending:
			t.Pending++
		case ApprovalRejected:
			t.Rejected++
		}
		if counted {
			if s := r.EffectiveSalary(); s != nil {
				t.TotalInsuranceSalary = t.TotalInsuranceSalary.Add(*s)
			}
		}
	}
	return t
}
