/*
handlers.go - HTTP API handlers for the insurance engine

PURPOSE:
  Thin JSON surface over the engine components. Handlers parse input, call
  exactly one component operation, and map the error taxonomy to HTTP.

ACTOR:
  Mutating endpoints read the caller from the X-Actor-ID header. The value
  is trusted; authentication happens upstream.

ERROR MAPPING:
  - 400: Validation errors, malformed input, missing actor
  - 404: Unknown employee, report, record, suggestion
  - 409: Invariant violations and state conflicts (blocking ids included)
  - 422: Configuration errors (missing or overlapping rates)
  - 500: Everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/warp/insurance-engine/detection"
	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/hr"
	"github.com/warp/insurance-engine/profile"
	"github.com/warp/insurance-engine/rates"
	"github.com/warp/insurance-engine/report"
	"github.com/warp/insurance-engine/salary"
	"github.com/warp/insurance-engine/suggestion"
)

// ActorHeader carries the already-authorized caller identity.
const ActorHeader = "X-Actor-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Services bundles the engine components the handlers call.
type Services struct {
	Rates       *rates.Service
	Ledger      *profile.Ledger
	Calculator  *salary.Calculator
	Suggestions *suggestion.Engine
	Detector    *detection.Engine
	Reports     *report.Service
	Directory   hr.Directory
	Clock       generic.Clock
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Services
	log logrus.FieldLogger
}

func NewHandler(s Services, log logrus.FieldLogger) *Handler {
	if s.Clock == nil {
		s.Clock = generic.SystemClock{}
	}
	return &Handler{Services: s, log: log.WithField("component", "api")}
}

// =============================================================================
// RATE HANDLERS
// =============================================================================

// UpsertWage records a regional minimum wage.
// POST /api/rates/wages
func (h *Handler) UpsertWage(w http.ResponseWriter, r *http.Request) {
	var req UpsertWageRequest
	if !decode(w, r, &req) {
		return
	}
	wage, err := h.Rates.UpsertWage(r.Context(), rates.UpsertWageInput{
		Region:        generic.Region(req.Region),
		Amount:        req.Amount,
		EffectiveFrom: req.EffectiveFrom,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWageDTO(*wage))
}

// ListWages returns wage history, optionally for one region.
// GET /api/rates/wages?region=
func (h *Handler) ListWages(w http.ResponseWriter, r *http.Request) {
	region := 0
	if v := r.URL.Query().Get("region"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid region", err)
			return
		}
		region = n
	}
	wages, err := h.Rates.ListWages(r.Context(), generic.Region(region))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]WageDTO, len(wages))
	for i, wg := range wages {
		out[i] = toWageDTO(wg)
	}
	writeJSON(w, http.StatusOK, out)
}

// LookupWage answers "which wage applies on date".
// GET /api/rates/wages/lookup?region=&date=
func (h *Handler) LookupWage(w http.ResponseWriter, r *http.Request) {
	region, err := strconv.Atoi(r.URL.Query().Get("region"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid region", err)
		return
	}
	date, ok := h.dateParam(w, r)
	if !ok {
		return
	}
	amount, found, err := h.Rates.LookupWage(r.Context(), generic.Region(region), date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dto := LookupDTO{Date: date, Found: found}
	if found {
		dto.Value = &amount
	}
	writeJSON(w, http.StatusOK, dto)
}

// DeactivateWage
// POST /api/rates/wages/{id}/deactivate
func (h *Handler) DeactivateWage(w http.ResponseWriter, r *http.Request) {
	wage, err := h.Rates.DeactivateWage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWageDTO(*wage))
}

// UpsertGrade records a position grade coefficient.
// POST /api/rates/grades
func (h *Handler) UpsertGrade(w http.ResponseWriter, r *http.Request) {
	var req UpsertGradeRequest
	if !decode(w, r, &req) {
		return
	}
	grade, err := h.Rates.UpsertGrade(r.Context(), rates.UpsertGradeInput{
		PositionID:    generic.PositionID(req.PositionID),
		Grade:         generic.Grade(req.Grade),
		Coefficient:   req.Coefficient,
		EffectiveFrom: req.EffectiveFrom,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGradeDTO(*grade))
}

// ListGrades
// GET /api/rates/grades?position=
func (h *Handler) ListGrades(w http.ResponseWriter, r *http.Request) {
	grades, err := h.Rates.ListGrades(r.Context(), generic.PositionID(r.URL.Query().Get("position")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]GradeDTO, len(grades))
	for i, g := range grades {
		out[i] = toGradeDTO(g)
	}
	writeJSON(w, http.StatusOK, out)
}

// LookupGrade
// GET /api/rates/grades/lookup?position=&grade=&date=
func (h *Handler) LookupGrade(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	grade, err := strconv.Atoi(q.Get("grade"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid grade", err)
		return
	}
	date, ok := h.dateParam(w, r)
	if !ok {
		return
	}
	coef, found, err := h.Rates.LookupGrade(r.Context(), generic.PositionID(q.Get("position")), generic.Grade(grade), date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dto := LookupDTO{Date: date, Found: found}
	if found {
		dto.Value = &coef
	}
	writeJSON(w, http.StatusOK, dto)
}

// DeactivateGrade
// POST /api/rates/grades/{id}/deactivate
func (h *Handler) DeactivateGrade(w http.ResponseWriter, r *http.Request) {
	grade, err := h.Rates.DeactivateGrade(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGradeDTO(*grade))
}

// =============================================================================
// PROFILE HANDLERS
// =============================================================================

// GetProfile returns the employee's current slice.
// GET /api/employees/{id}/profile
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.Ledger.GetCurrent(r.Context(), employeeParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileDTO(*p))
}

// GetProfileHistory
// GET /api/employees/{id}/profile/history
func (h *Handler) GetProfileHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.Ledger.History(r.Context(), employeeParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]ProfileDTO, len(history))
	for i, p := range history {
		out[i] = toProfileDTO(p)
	}
	writeJSON(w, http.StatusOK, out)
}

// ApplyProfileChange appends a ledger slice.
// POST /api/employees/{id}/profile/changes
func (h *Handler) ApplyProfileChange(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req ProfileChangeRequest
	if !decode(w, r, &req) {
		return
	}
	in := profile.ChangeInput{
		EmployeeID:    employeeParam(r),
		Grade:         generic.Grade(req.Grade),
		Reason:        profile.Reason(req.Reason),
		EffectiveDate: req.EffectiveDate,
		Actor:         actor,
	}
	if req.PositionID != nil {
		pos := generic.PositionID(*req.PositionID)
		in.PositionID = &pos
	}
	if req.SourceDocument != nil {
		doc := generic.DocumentID(*req.SourceDocument)
		in.SourceDocument = &doc
	}
	p, err := h.Ledger.ApplyChange(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProfileDTO(*p))
}

// GetInsuranceSalary prices the employee on a date (today by default).
// GET /api/employees/{id}/insurance-salary?date=
func (h *Handler) GetInsuranceSalary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := employeeParam(r)
	date := generic.Today(h.Clock)
	if r.URL.Query().Get("date") != "" {
		var ok bool
		if date, ok = h.dateParam(w, r); !ok {
			return
		}
	}
	emp, err := h.Directory.GetEmployee(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Calculator.CalculateForEmployee(ctx, id, emp.Region, date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInsuranceSalaryDTO(id, res))
}

// =============================================================================
// SUGGESTION HANDLERS
// =============================================================================

// ListSuggestions
// GET /api/suggestions?status=
func (h *Handler) ListSuggestions(w http.ResponseWriter, r *http.Request) {
	status := suggestion.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status", nil)
		return
	}
	list, err := h.Suggestions.List(r.Context(), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSuggestionDTOs(list))
}

// ScanSuggestions runs the seniority scan now.
// POST /api/suggestions/scan
func (h *Handler) ScanSuggestions(w http.ResponseWriter, r *http.Request) {
	res, err := h.Suggestions.Scan(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ScanResultDTO{
		Created:  toSuggestionDTOs(res.Created),
		Eligible: res.Eligible,
		Skipped:  res.Skipped,
	})
}

// SweepSuggestions expires past-due suggestions now.
// POST /api/suggestions/sweep
func (h *Handler) SweepSuggestions(w http.ResponseWriter, r *http.Request) {
	expired, err := h.Suggestions.SweepExpired(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSuggestionDTOs(expired))
}

// ApproveSuggestion
// POST /api/suggestions/{id}/approve
func (h *Handler) ApproveSuggestion(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req ApproveSuggestionRequest
	if !decode(w, r, &req) {
		return
	}
	s, p, err := h.Suggestions.Approve(r.Context(), suggestion.ApproveInput{
		SuggestionID: chi.URLParam(r, "id"),
		AppendixID:   generic.DocumentID(req.AppendixID),
		Actor:        actor,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dto := ApprovalResultDTO{Suggestion: toSuggestionDTO(*s)}
	if p != nil {
		pd := toProfileDTO(*p)
		dto.Profile = &pd
	}
	writeJSON(w, http.StatusOK, dto)
}

// RejectSuggestion
// POST /api/suggestions/{id}/reject
func (h *Handler) RejectSuggestion(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req NoteRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	s, err := h.Suggestions.Reject(r.Context(), chi.URLParam(r, "id"), actor, req.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSuggestionDTO(*s))
}

func toSuggestionDTOs(list []suggestion.Suggestion) []SuggestionDTO {
	out := make([]SuggestionDTO, len(list))
	for i, s := range list {
		out[i] = toSuggestionDTO(s)
	}
	return out
}

// =============================================================================
// DETECTION / REPORT HANDLERS
// =============================================================================

// PreviewDetection runs detection for a month without writing anything.
// GET /api/detections?year=&month=
func (h *Handler) PreviewDetection(w http.ResponseWriter, r *http.Request) {
	year, month, ok := monthParams(w, r.URL.Query().Get("year"), r.URL.Query().Get("month"))
	if !ok {
		return
	}
	res, err := h.Detector.Detect(r.Context(), year, month)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDetectionDTO(res))
}

// CreateReport creates (or returns) the report for a period.
// POST /api/reports
func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req CreateReportRequest
	if !decode(w, r, &req) {
		return
	}
	if err := generic.ValidateMonth(req.Year, req.Month); err != nil {
		h.fail(w, r, err)
		return
	}
	rep, created, err := h.Reports.CreateReport(r.Context(), req.Year, time.Month(req.Month), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toReportDTO(*rep))
}

// ListReports
// GET /api/reports
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	list, err := h.Reports.ListReports(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]ReportDTO, len(list))
	for i, rep := range list {
		out[i] = toReportDTO(rep)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetReport returns the report with live totals while DRAFT.
// GET /api/reports/{id}
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rep, err := h.Reports.GetReport(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	totals, err := h.Reports.Summary(ctx, rep.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rep.Totals = *totals
	writeJSON(w, http.StatusOK, toReportDTO(*rep))
}

// GenerateReport reruns detection into the report.
// POST /api/reports/{id}/generate
func (h *Handler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	rep, err := h.Reports.GetReport(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Reports.Generate(ctx, rep.Year, rep.Month, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, GenerateResultDTO{
		Report:    toReportDTO(*res.Report),
		Detected:  res.Detected,
		Inserted:  res.Inserted,
		Refreshed: res.Refreshed,
		Unchanged: res.Unchanged,
		Locked:    res.Locked,
	})
}

// ListRecords
// GET /api/reports/{id}/records
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.Reports.ListRecords(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]RecordDTO, len(records))
	for i, rec := range records {
		out[i] = toRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, out)
}

// FinalizeReport
// POST /api/reports/{id}/finalize
func (h *Handler) FinalizeReport(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	rep, err := h.Reports.Finalize(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(*rep))
}

// ExportReport
// POST /api/reports/{id}/export
func (h *Handler) ExportReport(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	rep, err := h.Reports.Export(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(*rep))
}

// ApproveRecord
// POST /api/records/{id}/approve
func (h *Handler) ApproveRecord(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req NoteRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	rec, err := h.Reports.Approve(r.Context(), report.ApproveCommand{
		RecordID: chi.URLParam(r, "id"),
		Actor:    actor,
		Note:     req.Note,
	})
	h.writeRecord(w, r, rec, err)
}

// RejectRecord
// POST /api/records/{id}/reject
func (h *Handler) RejectRecord(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req NoteRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	rec, err := h.Reports.Reject(r.Context(), report.RejectCommand{
		RecordID: chi.URLParam(r, "id"),
		Actor:    actor,
		Note:     req.Note,
	})
	h.writeRecord(w, r, rec, err)
}

// AdjustRecord
// POST /api/records/{id}/adjust
func (h *Handler) AdjustRecord(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req AdjustRecordRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := h.Reports.Adjust(r.Context(), report.AdjustCommand{
		RecordID: chi.URLParam(r, "id"),
		Actor:    actor,
		Salary:   req.Salary,
		Reason:   req.Reason,
	})
	h.writeRecord(w, r, rec, err)
}

func (h *Handler) writeRecord(w http.ResponseWriter, r *http.Request, rec *report.ChangeRecord, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(*rec))
}

// =============================================================================
// HELPERS
// =============================================================================

func employeeParam(r *http.Request) generic.EmployeeID {
	return generic.EmployeeID(chi.URLParam(r, "id"))
}

func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := r.Header.Get(ActorHeader)
	if actor == "" {
		writeError(w, http.StatusBadRequest, "Missing "+ActorHeader+" header", nil)
		return "", false
	}
	return actor, true
}

func (h *Handler) dateParam(w http.ResponseWriter, r *http.Request) (generic.Date, bool) {
	d, err := generic.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD", err)
		return generic.Date{}, false
	}
	return d, true
}

func monthParams(w http.ResponseWriter, y, m string) (int, time.Month, bool) {
	year, err := strconv.Atoi(y)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return 0, 0, false
	}
	month, err := strconv.Atoi(m)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return 0, 0, false
	}
	if err := generic.ValidateMonth(year, month); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return 0, 0, false
	}
	return year, time.Month(month), true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decode(w, r, dst)
}

// fail maps the engine error taxonomy to a status code.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: http.StatusText(status), Details: err.Error()}

	var conflict *generic.StateConflictError
	if errors.As(err, &conflict) {
		resp.Blocking = conflict.Blocking
	}
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrValidation):
		return http.StatusBadRequest
	case generic.IsConflict(err), errors.Is(err, generic.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, generic.ErrConfiguration):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
