package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/warp/insurance-engine/detection"
	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/report"
)

// =============================================================================
// REPORT STORE (report.Store interface)
// =============================================================================

// ReportStore implements report.Store.
type ReportStore struct{ s *Store }

const reportColumns = `id, year, month, status, totals_json, export_path, exported_at, exported_by,
	finalized_at, finalized_by, created_by, created_at`

const recordColumns = `id, report_id, employee_id, change_type, auto_reason, effective_date,
	insurance_salary, prior_salary, social, health, unemployment, contract_id, appendix_id,
	leave_request_id, detection_note, approval_status, adjusted_salary, adjust_reason,
	decision_note, decided_by, decided_at, created_at, updated_at`

func (rs *ReportStore) CreateReport(ctx context.Context, r report.Report) error {
	totals, err := json.Marshal(r.Totals)
	if err != nil {
		return err
	}
	return rs.s.write(func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO insurance_monthly_reports (`+reportColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Year, int(r.Month), string(r.Status), string(totals),
			r.ExportPath, nullTime(r.ExportedAt), r.ExportedBy,
			nullTime(r.FinalizedAt), r.FinalizedBy, r.CreatedBy, formatTime(r.CreatedAt),
		)
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("failed to insert report: %w", err)
		}
		return nil
	})
}

func (rs *ReportStore) GetReport(ctx context.Context, id string) (*report.Report, error) {
	var out *report.Report
	err := rs.s.read(func(q querier) error {
		var err error
		out, err = getReport(ctx, q, `SELECT `+reportColumns+` FROM insurance_monthly_reports WHERE id = ?`, id)
		return err
	})
	return out, err
}

func (rs *ReportStore) FindReport(ctx context.Context, year int, month time.Month) (*report.Report, error) {
	var out *report.Report
	err := rs.s.read(func(q querier) error {
		var err error
		out, err = getReport(ctx, q, `SELECT `+reportColumns+` FROM insurance_monthly_reports WHERE year = ? AND month = ?`, year, int(month))
		return err
	})
	return out, err
}

func (rs *ReportStore) ListReports(ctx context.Context) ([]report.Report, error) {
	var out []report.Report
	err := rs.s.read(func(q querier) error {
		rows, err := q.QueryContext(ctx, `SELECT `+reportColumns+` FROM insurance_monthly_reports ORDER BY year DESC, month DESC`)
		if err != nil {
			return fmt.Errorf("failed to query reports: %w", err)
		}
		defer rows.Close()
		out = []report.Report{}
		for rows.Next() {
			r, err := scanReport(rows)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

func (rs *ReportStore) GetRecord(ctx context.Context, id string) (*report.ChangeRecord, error) {
	var out *report.ChangeRecord
	err := rs.s.read(func(q querier) error {
		rec, err := scanRecord(q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM insurance_change_records WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		out = &rec
		return nil
	})
	return out, err
}

func (rs *ReportStore) ListRecords(ctx context.Context, reportID string) ([]report.ChangeRecord, error) {
	var out []report.ChangeRecord
	err := rs.s.read(func(q querier) error {
		var err error
		out, err = queryRecords(ctx, q, reportID)
		return err
	})
	return out, err
}

func (rs *ReportStore) InsertRecord(ctx context.Context, rec report.ChangeRecord) error {
	return rs.s.withTx(ctx, func(q querier) error {
		r, err := getReport(ctx, q, `SELECT `+reportColumns+` FROM insurance_monthly_reports WHERE id = ?`, rec.ReportID)
		if err != nil {
			return err
		}
		if r == nil {
			return &generic.NotFoundError{Kind: "report", ID: rec.ReportID}
		}
		if r.Status != report.StatusDraft {
			return &generic.StateConflictError{Op: "insert change record", State: string(r.Status), Blocking: []string{r.ID}}
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO insurance_change_records (`+recordColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.ReportID, string(rec.EmployeeID), string(rec.ChangeType), string(rec.AutoReason),
			formatDate(rec.EffectiveDate), nullDecimal(rec.InsuranceSalary), nullDecimal(rec.PriorSalary),
			boolInt(rec.Coverage.Social), boolInt(rec.Coverage.Health), boolInt(rec.Coverage.Unemployment),
			nullDoc(rec.ContractID), nullDoc(rec.AppendixID), rec.LeaveRequestID, rec.DetectionNote,
			string(rec.ApprovalStatus), nullDecimal(rec.AdjustedSalary), rec.AdjustReason,
			rec.DecisionNote, rec.DecidedBy, nullTime(rec.DecidedAt),
			formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
		)
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("failed to insert change record: %w", err)
		}
		return nil
	})
}

// pendingInDraft guards every record UPDATE.
const pendingInDraft = `approval_status = 'PENDING'
	AND report_id IN (SELECT id FROM insurance_monthly_reports WHERE status = 'DRAFT')`

func (rs *ReportStore) RefreshRecord(ctx context.Context, rec report.ChangeRecord) (bool, error) {
	var ok bool
	err := rs.s.write(func(q querier) error {
		res, err := q.ExecContext(ctx, `
			UPDATE insurance_change_records SET
				change_type = ?, auto_reason = ?, effective_date = ?, insurance_salary = ?, prior_salary = ?,
				social = ?, health = ?, unemployment = ?, contract_id = ?, appendix_id = ?,
				leave_request_id = ?, detection_note = ?, updated_at = ?
			WHERE id = ? AND `+pendingInDraft,
			string(rec.ChangeType), string(rec.AutoReason), formatDate(rec.EffectiveDate),
			nullDecimal(rec.InsuranceSalary), nullDecimal(rec.PriorSalary),
			boolInt(rec.Coverage.Social), boolInt(rec.Coverage.Health), boolInt(rec.Coverage.Unemployment),
			nullDoc(rec.ContractID), nullDoc(rec.AppendixID), rec.LeaveRequestID, rec.DetectionNote,
			formatTime(rec.UpdatedAt), rec.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to refresh change record: %w", err)
		}
		ok, err = rowsAffected(res)
		return err
	})
	return ok, err
}

func (rs *ReportStore) Decide(ctx context.Context, rec report.ChangeRecord) (bool, error) {
	var ok bool
	err := rs.s.write(func(q querier) error {
		res, err := q.ExecContext(ctx, `
			UPDATE insurance_change_records SET
				approval_status = ?, adjusted_salary = ?, adjust_reason = ?, decision_note = ?,
				decided_by = ?, decided_at = ?, updated_at = ?
			WHERE id = ? AND `+pendingInDraft,
			string(rec.ApprovalStatus), nullDecimal(rec.AdjustedSalary), rec.AdjustReason, rec.DecisionNote,
			rec.DecidedBy, nullTime(rec.DecidedAt), formatTime(rec.UpdatedAt), rec.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to decide change record: %w", err)
		}
		ok, err = rowsAffected(res)
		return err
	})
	return ok, err
}

func (rs *ReportStore) Finalize(ctx context.Context, reportID string, fn report.FinalizeFunc) (*report.Report, error) {
	var out report.Report
	err := rs.s.withTx(ctx, func(q querier) error {
		r, err := getReport(ctx, q, `SELECT `+reportColumns+` FROM insurance_monthly_reports WHERE id = ?`, reportID)
		if err != nil {
			return err
		}
		if r == nil {
			return &generic.NotFoundError{Kind: "report", ID: reportID}
		}
		records, err := queryRecords(ctx, q, reportID)
		if err != nil {
			return err
		}

		next, err := fn(ctx, *r, records, participationWriter{q: q})
		if err != nil {
			return err
		}

		totals, err := json.Marshal(next.Totals)
		if err != nil {
			return err
		}
		res, err := q.ExecContext(ctx, `
			UPDATE insurance_monthly_reports
			SET status = ?, totals_json = ?, finalized_at = ?, finalized_by = ?
			WHERE id = ? AND status = 'DRAFT'`,
			string(next.Status), string(totals), nullTime(next.FinalizedAt), next.FinalizedBy, reportID,
		)
		if err != nil {
			return fmt.Errorf("failed to finalize report: %w", err)
		}
		if ok, err := rowsAffected(res); err != nil {
			return err
		} else if !ok {
			return &generic.StateConflictError{Op: "finalize report", State: string(report.StatusFinalized)}
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (rs *ReportStore) SetExport(ctx context.Context, reportID, location, actor string, at time.Time) error {
	return rs.s.write(func(q querier) error {
		return execOne(ctx, q, "report", reportID, `
			UPDATE insurance_monthly_reports SET export_path = ?, exported_by = ?, exported_at = ?
			WHERE id = ?`, location, actor, formatTime(at), reportID)
	})
}

// =============================================================================
// SCANNING
// =============================================================================

func getReport(ctx context.Context, q querier, query string, args ...any) (*report.Report, error) {
	r, err := scanReport(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanReport(row scanner) (report.Report, error) {
	var (
		r                       report.Report
		month                   int
		status, totals, at      string
		exportedAt, finalizedAt sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Year, &month, &status, &totals, &r.ExportPath, &exportedAt, &r.ExportedBy,
		&finalizedAt, &r.FinalizedBy, &r.CreatedBy, &at); err != nil {
		return r, err
	}
	r.Month = time.Month(month)
	r.Status = report.Status(status)
	if err := json.Unmarshal([]byte(totals), &r.Totals); err != nil {
		return r, fmt.Errorf("decode report totals: %w", err)
	}
	var err error
	if r.ExportedAt, err = parseNullTime(exportedAt); err != nil {
		return r, err
	}
	if r.FinalizedAt, err = parseNullTime(finalizedAt); err != nil {
		return r, err
	}
	r.CreatedAt, err = parseTime(at)
	return r, err
}

func queryRecords(ctx context.Context, q querier, reportID string) ([]report.ChangeRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM insurance_change_records
		WHERE report_id = ? ORDER BY employee_id`, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to query change records: %w", err)
	}
	defer rows.Close()

	out := []report.ChangeRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row scanner) (report.ChangeRecord, error) {
	var (
		rec                               report.ChangeRecord
		employee, changeType, reason, eff string
		status, createdAt, updatedAt      string
		salary, prior, adjusted           sql.NullString
		contract, appendix, decidedAt     sql.NullString
		social, health, unemployment      int
	)
	if err := row.Scan(&rec.ID, &rec.ReportID, &employee, &changeType, &reason, &eff,
		&salary, &prior, &social, &health, &unemployment, &contract, &appendix,
		&rec.LeaveRequestID, &rec.DetectionNote, &status, &adjusted, &rec.AdjustReason,
		&rec.DecisionNote, &rec.DecidedBy, &decidedAt, &createdAt, &updatedAt); err != nil {
		return rec, err
	}
	var err error
	rec.EmployeeID = generic.EmployeeID(employee)
	rec.ChangeType = detection.ChangeType(changeType)
	rec.AutoReason = detection.Reason(reason)
	rec.ApprovalStatus = report.ApprovalStatus(status)
	rec.Coverage.Social = social == 1
	rec.Coverage.Health = health == 1
	rec.Coverage.Unemployment = unemployment == 1
	rec.ContractID = parseNullDoc(contract)
	rec.AppendixID = parseNullDoc(appendix)
	if rec.EffectiveDate, err = parseDate(eff); err != nil {
		return rec, err
	}
	if rec.InsuranceSalary, err = parseNullDecimal(salary); err != nil {
		return rec, err
	}
	if rec.PriorSalary, err = parseNullDecimal(prior); err != nil {
		return rec, err
	}
	if rec.AdjustedSalary, err = parseNullDecimal(adjusted); err != nil {
		return rec, err
	}
	if rec.DecidedAt, err = parseNullTime(decidedAt); err != nil {
		return rec, err
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return rec, err
	}
	rec.UpdatedAt, err = parseTime(updatedAt)
	return rec, err
}
