/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes for the HTTP surface, decoupled from the domain structs.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Decimals are JSON strings ("4960000.00"); requests accept strings or numbers.
  Dates are "YYYY-MM-DD".
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/insurance-engine/detection"
	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/hr"
	"github.com/warp/insurance-engine/profile"
	"github.com/warp/insurance-engine/rates"
	"github.com/warp/insurance-engine/report"
	"github.com/warp/insurance-engine/salary"
	"github.com/warp/insurance-engine/suggestion"
)

// =============================================================================
// RATES
// =============================================================================

type UpsertWageRequest struct {
	Region        int             `json:"region"`
	Amount        decimal.Decimal `json:"amount"`
	EffectiveFrom generic.Date    `json:"effective_from"`
}

type UpsertGradeRequest struct {
	PositionID    string          `json:"position_id"`
	Grade         int             `json:"grade"`
	Coefficient   decimal.Decimal `json:"coefficient"`
	EffectiveFrom generic.Date    `json:"effective_from"`
}

type WageDTO struct {
	ID            string          `json:"id"`
	Region        int             `json:"region"`
	Amount        decimal.Decimal `json:"amount"`
	EffectiveFrom generic.Date    `json:"effective_from"`
	EffectiveTo   *generic.Date   `json:"effective_to"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
}

func toWageDTO(w rates.MinimumWage) WageDTO {
	return WageDTO{
		ID:            w.ID,
		Region:        int(w.Region),
		Amount:        w.Amount,
		EffectiveFrom: w.Effective.From,
		EffectiveTo:   w.Effective.To,
		IsActive:      w.IsActive,
		CreatedAt:     w.CreatedAt,
	}
}

type GradeDTO struct {
	ID            string          `json:"id"`
	PositionID    string          `json:"position_id"`
	Grade         int             `json:"grade"`
	Coefficient   decimal.Decimal `json:"coefficient"`
	EffectiveFrom generic.Date    `json:"effective_from"`
	EffectiveTo   *generic.Date   `json:"effective_to"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
}

func toGradeDTO(g rates.PositionSalaryGrade) GradeDTO {
	return GradeDTO{
		ID:            g.ID,
		PositionID:    string(g.PositionID),
		Grade:         int(g.Grade),
		Coefficient:   g.Coefficient,
		EffectiveFrom: g.Effective.From,
		EffectiveTo:   g.Effective.To,
		IsActive:      g.IsActive,
		CreatedAt:     g.CreatedAt,
	}
}

// LookupDTO answers a lookup. Value is null when no record covers the date.
type LookupDTO struct {
	Date  generic.Date     `json:"date"`
	Found bool             `json:"found"`
	Value *decimal.Decimal `json:"value"`
}

// =============================================================================
// PROFILES
// =============================================================================

type ProfileChangeRequest struct {
	Grade          int          `json:"grade"`
	PositionID     *string      `json:"position_id"`
	Reason         string       `json:"reason"`
	EffectiveDate  generic.Date `json:"effective_date"`
	SourceDocument *string      `json:"source_document"`
}

type ProfileDTO struct {
	ID             string        `json:"id"`
	EmployeeID     string        `json:"employee_id"`
	PositionID     *string       `json:"position_id"`
	Grade          int           `json:"grade"`
	AppliedFrom    generic.Date  `json:"applied_from"`
	AppliedTo      *generic.Date `json:"applied_to"`
	Reason         string        `json:"reason"`
	SourceDocument *string       `json:"source_document"`
	CreatedBy      string        `json:"created_by"`
	CreatedAt      time.Time     `json:"created_at"`
}

func toProfileDTO(p profile.Profile) ProfileDTO {
	dto := ProfileDTO{
		ID:             p.ID,
		EmployeeID:     string(p.EmployeeID),
		Grade:          int(p.Grade),
		AppliedFrom:    p.Applied.From,
		AppliedTo:      p.Applied.To,
		Reason:         string(p.Reason),
		SourceDocument: docString(p.SourceDocument),
		CreatedBy:      p.CreatedBy,
		CreatedAt:      p.CreatedAt,
	}
	if p.PositionID != nil {
		s := string(*p.PositionID)
		dto.PositionID = &s
	}
	return dto
}

type InsuranceSalaryDTO struct {
	EmployeeID  string          `json:"employee_id"`
	Date        generic.Date    `json:"date"`
	Region      int             `json:"region"`
	PositionID  string          `json:"position_id"`
	Grade       int             `json:"grade"`
	MinimumWage decimal.Decimal `json:"minimum_wage"`
	Coefficient decimal.Decimal `json:"coefficient"`
	Salary      decimal.Decimal `json:"insurance_salary"`
	ProfileID   string          `json:"profile_id"`
}

func toInsuranceSalaryDTO(employee generic.EmployeeID, r salary.Result) InsuranceSalaryDTO {
	return InsuranceSalaryDTO{
		EmployeeID:  string(employee),
		Date:        r.Date,
		Region:      int(r.Region),
		PositionID:  string(r.PositionID),
		Grade:       int(r.Grade),
		MinimumWage: r.Wage,
		Coefficient: r.Coefficient,
		Salary:      r.Salary,
		ProfileID:   r.ProfileID,
	}
}

// =============================================================================
// SUGGESTIONS
// =============================================================================

type ApproveSuggestionRequest struct {
	AppendixID string `json:"appendix_id"`
}

type NoteRequest struct {
	Note string `json:"note"`
}

type SuggestionDTO struct {
	ID             string     `json:"id"`
	EmployeeID     string     `json:"employee_id"`
	ProfileID      string     `json:"profile_id"`
	CurrentGrade   int        `json:"current_grade"`
	SuggestedGrade int        `json:"suggested_grade"`
	TenureYears    int        `json:"tenure_years"`
	Status         string     `json:"status"`
	SuggestedAt    time.Time  `json:"suggested_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	AppendixID     *string    `json:"appendix_id"`
	DecidedBy      string     `json:"decided_by,omitempty"`
	DecidedAt      *time.Time `json:"decided_at"`
	Note           string     `json:"note,omitempty"`
}

func toSuggestionDTO(s suggestion.Suggestion) SuggestionDTO {
	return SuggestionDTO{
		ID:             s.ID,
		EmployeeID:     string(s.EmployeeID),
		ProfileID:      s.ProfileID,
		CurrentGrade:   int(s.CurrentGrade),
		SuggestedGrade: int(s.SuggestedGrade),
		TenureYears:    s.TenureYears,
		Status:         string(s.Status),
		SuggestedAt:    s.SuggestedAt,
		ExpiresAt:      s.ExpiresAt,
		AppendixID:     docString(s.AppendixID),
		DecidedBy:      s.DecidedBy,
		DecidedAt:      s.DecidedAt,
		Note:           s.Note,
	}
}

type ScanResultDTO struct {
	Created  []SuggestionDTO `json:"created"`
	Eligible int             `json:"eligible"`
	Skipped  int             `json:"skipped"`
}

type ApprovalResultDTO struct {
	Suggestion SuggestionDTO `json:"suggestion"`
	Profile    *ProfileDTO   `json:"profile"`
}

// =============================================================================
// DETECTION
// =============================================================================

type ChangeDTO struct {
	EmployeeID     string           `json:"employee_id"`
	ChangeType     string           `json:"change_type"`
	Reason         string           `json:"reason"`
	EffectiveDate  generic.Date     `json:"effective_date"`
	Salary         *decimal.Decimal `json:"insurance_salary"`
	PriorSalary    *decimal.Decimal `json:"prior_salary"`
	Coverage       hr.Coverage      `json:"coverage"`
	ContractID     *string          `json:"contract_id"`
	AppendixID     *string          `json:"appendix_id"`
	LeaveRequestID string           `json:"leave_request_id,omitempty"`
	Note           string           `json:"note,omitempty"`
}

func toChangeDTO(c detection.Change) ChangeDTO {
	return ChangeDTO{
		EmployeeID:     string(c.EmployeeID),
		ChangeType:     string(c.Type),
		Reason:         string(c.Reason),
		EffectiveDate:  c.EffectiveDate,
		Salary:         c.Salary,
		PriorSalary:    c.PriorSalary,
		Coverage:       c.Coverage,
		ContractID:     docString(c.ContractID),
		AppendixID:     docString(c.AppendixID),
		LeaveRequestID: c.LeaveRequestID,
		Note:           c.Note,
	}
}

type DetectionDTO struct {
	Year     int         `json:"year"`
	Month    int         `json:"month"`
	Scanned  int         `json:"scanned"`
	Increase []ChangeDTO `json:"increase"`
	Decrease []ChangeDTO `json:"decrease"`
	Adjust   []ChangeDTO `json:"adjust"`
}

func toDetectionDTO(r *detection.Result) DetectionDTO {
	return DetectionDTO{
		Year:     r.Year,
		Month:    int(r.Month),
		Scanned:  r.Scanned,
		Increase: toChangeDTOs(r.Increase),
		Decrease: toChangeDTOs(r.Decrease),
		Adjust:   toChangeDTOs(r.Adjust),
	}
}

func toChangeDTOs(cs []detection.Change) []ChangeDTO {
	out := make([]ChangeDTO, len(cs))
	for i, c := range cs {
		out[i] = toChangeDTO(c)
	}
	return out
}

// =============================================================================
// REPORTS
// =============================================================================

type CreateReportRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

type AdjustRecordRequest struct {
	Salary decimal.Decimal `json:"salary"`
	Reason string          `json:"reason"`
}

type ReportDTO struct {
	ID          string        `json:"id"`
	Year        int           `json:"year"`
	Month       int           `json:"month"`
	Status      string        `json:"status"`
	Totals      report.Totals `json:"totals"`
	ExportPath  string        `json:"export_path,omitempty"`
	ExportedAt  *time.Time    `json:"exported_at"`
	ExportedBy  string        `json:"exported_by,omitempty"`
	FinalizedAt *time.Time    `json:"finalized_at"`
	FinalizedBy string        `json:"finalized_by,omitempty"`
	CreatedBy   string        `json:"created_by"`
	CreatedAt   time.Time     `json:"created_at"`
}

func toReportDTO(r report.Report) ReportDTO {
	return ReportDTO{
		ID:          r.ID,
		Year:        r.Year,
		Month:       int(r.Month),
		Status:      string(r.Status),
		Totals:      r.Totals,
		ExportPath:  r.ExportPath,
		ExportedAt:  r.ExportedAt,
		ExportedBy:  r.ExportedBy,
		FinalizedAt: r.FinalizedAt,
		FinalizedBy: r.FinalizedBy,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt,
	}
}

type GenerateResultDTO struct {
	Report    ReportDTO `json:"report"`
	Detected  int       `json:"detected"`
	Inserted  int       `json:"inserted"`
	Refreshed int       `json:"refreshed"`
	Unchanged int       `json:"unchanged"`
	Locked    int       `json:"locked"`
}

type RecordDTO struct {
	ID              string           `json:"id"`
	ReportID        string           `json:"report_id"`
	EmployeeID      string           `json:"employee_id"`
	ChangeType      string           `json:"change_type"`
	AutoReason      string           `json:"auto_reason"`
	EffectiveDate   generic.Date     `json:"effective_date"`
	InsuranceSalary *decimal.Decimal `json:"insurance_salary"`
	PriorSalary     *decimal.Decimal `json:"prior_salary"`
	Coverage        hr.Coverage      `json:"coverage"`
	ContractID      *string          `json:"contract_id"`
	AppendixID      *string          `json:"appendix_id"`
	LeaveRequestID  string           `json:"leave_request_id,omitempty"`
	DetectionNote   string           `json:"detection_note,omitempty"`
	ApprovalStatus  string           `json:"approval_status"`
	AdjustedSalary  *decimal.Decimal `json:"adjusted_salary"`
	AdjustReason    string           `json:"adjust_reason,omitempty"`
	DecisionNote    string           `json:"decision_note,omitempty"`
	DecidedBy       string           `json:"decided_by,omitempty"`
	DecidedAt       *time.Time       `json:"decided_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func toRecordDTO(r report.ChangeRecord) RecordDTO {
	return RecordDTO{
		ID:              r.ID,
		ReportID:        r.ReportID,
		EmployeeID:      string(r.EmployeeID),
		ChangeType:      string(r.ChangeType),
		AutoReason:      string(r.AutoReason),
		EffectiveDate:   r.EffectiveDate,
		InsuranceSalary: r.InsuranceSalary,
		PriorSalary:     r.PriorSalary,
		Coverage:        r.Coverage,
		ContractID:      docString(r.ContractID),
		AppendixID:      docString(r.AppendixID),
		LeaveRequestID:  r.LeaveRequestID,
		DetectionNote:   r.DetectionNote,
		ApprovalStatus:  string(r.ApprovalStatus),
		AdjustedSalary:  r.AdjustedSalary,
		AdjustReason:    r.AdjustReason,
		DecisionNote:    r.DecisionNote,
		DecidedBy:       r.DecidedBy,
		DecidedAt:       r.DecidedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error    string   `json:"error"`
	Details  string   `json:"details,omitempty"`
	Blocking []string `json:"blocking,omitempty"`
}

func docString(d *generic.DocumentID) *string {
	if d == nil {
		return nil
	}
	s := string(*d)
	return &s
}
