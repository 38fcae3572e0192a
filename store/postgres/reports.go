package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/warp/insurance-engine/detection"
	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/report"
)

// ReportStore implements report.Store.
type ReportStore struct{ s *Store }

const reportColumns = `id, year, month, status, totals_json, export_path, exported_at, exported_by,
	finalized_at, finalized_by, created_by, created_at`

const recordColumns = `id, report_id, employee_id, change_type, auto_reason, effective_date,
	insurance_salary::text, prior_salary::text, social, health, unemployment, contract_id, appendix_id,
	leave_request_id, detection_note, approval_status, adjusted_salary::text, adjust_reason,
	decision_note, decided_by, decided_at, created_at, updated_at`

func (rs *ReportStore) CreateReport(ctx context.Context, r report.Report) error {
	totals, err := json.Marshal(r.Totals)
	if err != nil {
		return err
	}
	_, err = rs.s.pool.Exec(ctx, `
		INSERT INTO insurance_monthly_reports (id, year, month, status, totals_json, export_path, exported_at,
			exported_by, finalized_at, finalized_by, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.Year, int(r.Month), string(r.Status), string(totals), r.ExportPath, r.ExportedAt,
		r.ExportedBy, r.FinalizedAt, r.FinalizedBy, r.CreatedBy, r.CreatedAt)
	if isUniqueViolation(err) {
		return generic.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (rs *ReportStore) GetReport(ctx context.Context, id string) (*report.Report, error) {
	return oneReport(ctx, rs.s.pool, `SELECT `+reportColumns+` FROM insurance_monthly_reports WHERE id = $1`, id)
}

func (rs *ReportStore) FindReport(ctx context.Context, year int, month time.Month) (*report.Report, error) {
	return oneReport(ctx, rs.s.pool,
		`SELECT `+reportColumns+` FROM insurance_monthly_reports WHERE year = $1 AND month = $2`, year, int(month))
}

func (rs *ReportStore) ListReports(ctx context.Context) ([]report.Report, error) {
	rows, err := rs.s.pool.Query(ctx, `SELECT `+reportColumns+` FROM insurance_monthly_reports ORDER BY year DESC, month DESC`)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	out := []report.Report{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (rs *ReportStore) GetRecord(ctx context.Context, id string) (*report.ChangeRecord, error) {
	rec, err := scanRecord(rs.s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM insurance_change_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (rs *ReportStore) ListRecords(ctx context.Context, reportID string) ([]report.ChangeRecord, error) {
	return queryRecords(ctx, rs.s.pool, reportID)
}

func (rs *ReportStore) InsertRecord(ctx context.Context, rec report.ChangeRecord) error {
	return rs.s.withTx(ctx, func(tx pgx.Tx) error {
		if err := lockDraft(ctx, tx, rec.ReportID, "insert change record"); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO insurance_change_records (id, report_id, employee_id, change_type, auto_reason,
				effective_date, insurance_salary, prior_salary, social, health, unemployment, contract_id,
				appendix_id, leave_request_id, detection_note, approval_status, adjusted_salary, adjust_reason,
				decision_note, decided_by, decided_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
			rec.ID, rec.ReportID, string(rec.EmployeeID), string(rec.ChangeType), string(rec.AutoReason),
			dateArg(rec.EffectiveDate), nullDecimalArg(rec.InsuranceSalary), nullDecimalArg(rec.PriorSalary),
			rec.Coverage.Social, rec.Coverage.Health, rec.Coverage.Unemployment,
			nullDocArg(rec.ContractID), nullDocArg(rec.AppendixID), rec.LeaveRequestID, rec.DetectionNote,
			string(rec.ApprovalStatus), nullDecimalArg(rec.AdjustedSalary), rec.AdjustReason,
			rec.DecisionNote, rec.DecidedBy, rec.DecidedAt, rec.CreatedAt, rec.UpdatedAt)
		if isUniqueViolation(err) {
			return generic.ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("insert change record: %w", err)
		}
		return nil
	})
}

func (rs *ReportStore) RefreshRecord(ctx context.Context, rec report.ChangeRecord) (bool, error) {
	return rs.updatePending(ctx, rec.ReportID, `
		UPDATE insurance_change_records SET
			change_type = $1, auto_reason = $2, effective_date = $3, insurance_salary = $4, prior_salary = $5,
			social = $6, health = $7, unemployment = $8, contract_id = $9, appendix_id = $10,
			leave_request_id = $11, detection_note = $12, updated_at = $13
		WHERE id = $14 AND approval_status = 'PENDING'`,
		string(rec.ChangeType), string(rec.AutoReason), dateArg(rec.EffectiveDate),
		nullDecimalArg(rec.InsuranceSalary), nullDecimalArg(rec.PriorSalary),
		rec.Coverage.Social, rec.Coverage.Health, rec.Coverage.Unemployment,
		nullDocArg(rec.ContractID), nullDocArg(rec.AppendixID), rec.LeaveRequestID, rec.DetectionNote,
		rec.UpdatedAt, rec.ID)
}

func (rs *ReportStore) Decide(ctx context.Context, rec report.ChangeRecord) (bool, error) {
	return rs.updatePending(ctx, rec.ReportID, `
		UPDATE insurance_change_records SET
			approval_status = $1, adjusted_salary = $2, adjust_reason = $3, decision_note = $4,
			decided_by = $5, decided_at = $6, updated_at = $7
		WHERE id = $8 AND approval_status = 'PENDING'`,
		string(rec.ApprovalStatus), nullDecimalArg(rec.AdjustedSalary), rec.AdjustReason, rec.DecisionNote,
		rec.DecidedBy, rec.DecidedAt, rec.UpdatedAt, rec.ID)
}

// updatePending runs a record UPDATE while holding FOR SHARE on a DRAFT report.
func (rs *ReportStore) updatePending(ctx context.Context, reportID, query string, args ...any) (bool, error) {
	var ok bool
	err := rs.s.withTx(ctx, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM insurance_monthly_reports WHERE id = $1 FOR SHARE`, reportID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if status != string(report.StatusDraft) {
			return nil
		}
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update change record: %w", err)
		}
		ok = tag.RowsAffected() > 0
		return nil
	})
	return ok, err
}

func (rs *ReportStore) Finalize(ctx context.Context, reportID string, fn report.FinalizeFunc) (*report.Report, error) {
	var out report.Report
	err := rs.s.withTx(ctx, func(tx pgx.Tx) error {
		r, err := oneReport(ctx, tx, `SELECT `+reportColumns+` FROM insurance_monthly_reports WHERE id = $1 FOR UPDATE`, reportID)
		if err != nil {
			return err
		}
		if r == nil {
			return &generic.NotFoundError{Kind: "report", ID: reportID}
		}
		records, err := queryRecords(ctx, tx, reportID)
		if err != nil {
			return err
		}

		next, err := fn(ctx, *r, records, participationWriter{q: tx})
		if err != nil {
			return err
		}

		totals, err := json.Marshal(next.Totals)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE insurance_monthly_reports
			SET status = $1, totals_json = $2, finalized_at = $3, finalized_by = $4
			WHERE id = $5`,
			string(next.Status), string(totals), next.FinalizedAt, next.FinalizedBy, reportID); err != nil {
			return fmt.Errorf("finalize report: %w", err)
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
	return execOne(ctx, rs.s.pool, "report", reportID, `
		UPDATE insurance_monthly_reports SET export_path = $1, exported_by = $2, exported_at = $3
		WHERE id = $4`, location, actor, at, reportID)
}

// lockDraft takes FOR SHARE on the report and requires DRAFT.
func lockDraft(ctx context.Context, tx pgx.Tx, reportID, op string) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM insurance_monthly_reports WHERE id = $1 FOR SHARE`, reportID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return &generic.NotFoundError{Kind: "report", ID: reportID}
	}
	if err != nil {
		return err
	}
	if status != string(report.StatusDraft) {
		return &generic.StateConflictError{Op: op, State: status, Blocking: []string{reportID}}
	}
	return nil
}

func oneReport(ctx context.Context, q querier, query string, args ...any) (*report.Report, error) {
	r, err := scanReport(q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanReport(row scanner) (report.Report, error) {
	var (
		r              report.Report
		month          int16
		status, totals string
	)
	if err := row.Scan(&r.ID, &r.Year, &month, &status, &totals, &r.ExportPath, &r.ExportedAt, &r.ExportedBy,
		&r.FinalizedAt, &r.FinalizedBy, &r.CreatedBy, &r.CreatedAt); err != nil {
		return r, err
	}
	r.Month = time.Month(month)
	r.Status = report.Status(status)
	if err := json.Unmarshal([]byte(totals), &r.Totals); err != nil {
		return r, fmt.Errorf("decode report totals: %w", err)
	}
	return r, nil
}

func queryRecords(ctx context.Context, q querier, reportID string) ([]report.ChangeRecord, error) {
	rows, err := q.Query(ctx, `
		SELECT `+recordColumns+` FROM insurance_change_records
		WHERE report_id = $1 ORDER BY employee_id`, reportID)
	if err != nil {
		return nil, fmt.Errorf("query change records: %w", err)
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
		rec                                  report.ChangeRecord
		employee, changeType, reason, status string
		effective                            time.Time
		salary, prior, adjusted              *string
		contract, appendix                   *string
	)
	if err := row.Scan(&rec.ID, &rec.ReportID, &employee, &changeType, &reason, &effective,
		&salary, &prior, &rec.Coverage.Social, &rec.Coverage.Health, &rec.Coverage.Unemployment,
		&contract, &appendix, &rec.LeaveRequestID, &rec.DetectionNote, &status, &adjusted,
		&rec.AdjustReason, &rec.DecisionNote, &rec.DecidedBy, &rec.DecidedAt,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return rec, err
	}
	var err error
	rec.EmployeeID = generic.EmployeeID(employee)
	rec.ChangeType = detection.ChangeType(changeType)
	rec.AutoReason = detection.Reason(reason)
	rec.ApprovalStatus = report.ApprovalStatus(status)
	rec.EffectiveDate = fromDate(effective)
	rec.ContractID = fromNullDoc(contract)
	rec.AppendixID = fromNullDoc(appendix)
	if rec.InsuranceSalary, err = fromNullDecimal(salary); err != nil {
		return rec, err
	}
	if rec.PriorSalary, err = fromNullDecimal(prior); err != nil {
		return rec, err
	}
	rec.AdjustedSalary, err = fromNullDecimal(adjusted)
	return rec, err
}
