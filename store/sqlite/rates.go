package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/rates"
)

// =============================================================================
// RATE STORE (rates.Store interface)
// =============================================================================

// RateStore implements rates.Store.
type RateStore struct{ s *Store }

const wageColumns = `id, region, amount, effective_from, effective_to, is_active, created_at`
const gradeColumns = `id, position_id, grade, coefficient, effective_from, effective_to, is_active, created_at`

func (r *RateStore) WithTx(ctx context.Context, fn func(tx rates.Tx) error) error {
	return r.s.withTx(ctx, func(q querier) error {
		return fn(rateTx{q: q})
	})
}

func (r *RateStore) WagesCovering(ctx context.Context, region generic.Region, date generic.Date) ([]rates.MinimumWage, error) {
	var out []rates.MinimumWage
	err := r.s.read(func(q querier) error {
		var err error
		out, err = queryWages(ctx, q, `
			SELECT `+wageColumns+` FROM minimum_wages
			WHERE region = ? AND is_active = 1
			  AND effective_from <= ? AND (effective_to IS NULL OR effective_to >= ?)
			ORDER BY effective_from`,
			int(region), formatDate(date), formatDate(date))
		return err
	})
	return out, err
}

func (r *RateStore) GradesCovering(ctx context.Context, position generic.PositionID, grade generic.Grade, date generic.Date) ([]rates.PositionSalaryGrade, error) {
	var out []rates.PositionSalaryGrade
	err := r.s.read(func(q querier) error {
		var err error
		out, err = queryGrades(ctx, q, `
			SELECT `+gradeColumns+` FROM position_salary_grades
			WHERE position_id = ? AND grade = ? AND is_active = 1
			  AND effective_from <= ? AND (effective_to IS NULL OR effective_to >= ?)
			ORDER BY effective_from`,
			string(position), int(grade), formatDate(date), formatDate(date))
		return err
	})
	return out, err
}

func (r *RateStore) ListWages(ctx context.Context, region generic.Region) ([]rates.MinimumWage, error) {
	var out []rates.MinimumWage
	err := r.s.read(func(q querier) error {
		var err error
		out, err = queryWages(ctx, q, `
			SELECT `+wageColumns+` FROM minimum_wages
			WHERE (? = 0 OR region = ?)
			ORDER BY region, effective_from`,
			int(region), int(region))
		return err
	})
	return out, err
}

func (r *RateStore) ListGrades(ctx context.Context, position generic.PositionID) ([]rates.PositionSalaryGrade, error) {
	var out []rates.PositionSalaryGrade
	err := r.s.read(func(q querier) error {
		var err error
		out, err = queryGrades(ctx, q, `
			SELECT `+gradeColumns+` FROM position_salary_grades
			WHERE (? = '' OR position_id = ?)
			ORDER BY position_id, grade, effective_from`,
			string(position), string(position))
		return err
	})
	return out, err
}

// rateTx routes every statement through the open transaction.
type rateTx struct{ q querier }

func (tx rateTx) WagesForRegion(ctx context.Context, region generic.Region) ([]rates.MinimumWage, error) {
	return queryWages(ctx, tx.q, `
		SELECT `+wageColumns+` FROM minimum_wages WHERE region = ? ORDER BY effective_from`, int(region))
}

func (tx rateTx) GetWage(ctx context.Context, id string) (*rates.MinimumWage, error) {
	w, err := scanWage(tx.q.QueryRowContext(ctx, `SELECT `+wageColumns+` FROM minimum_wages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "minimum wage", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (tx rateTx) InsertWage(ctx context.Context, w rates.MinimumWage) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO minimum_wages (`+wageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID, int(w.Region), w.Amount.String(),
		formatDate(w.Effective.From), nullDate(w.Effective.To),
		boolInt(w.IsActive), formatTime(w.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return &generic.OverlapError{Key: fmt.Sprintf("region:%d", w.Region), Effective: w.Effective.From, ExistingID: "open record"}
	}
	if err != nil {
		return fmt.Errorf("failed to insert minimum wage: %w", err)
	}
	return nil
}

func (tx rateTx) CloseWage(ctx context.Context, id string, to generic.Date) error {
	return execOne(ctx, tx.q, "minimum wage", id,
		`UPDATE minimum_wages SET effective_to = ? WHERE id = ?`, formatDate(to), id)
}

func (tx rateTx) SetWageActive(ctx context.Context, id string, active bool) error {
	return execOne(ctx, tx.q, "minimum wage", id,
		`UPDATE minimum_wages SET is_active = ? WHERE id = ?`, boolInt(active), id)
}

func (tx rateTx) GradesForKey(ctx context.Context, position generic.PositionID, grade generic.Grade) ([]rates.PositionSalaryGrade, error) {
	return queryGrades(ctx, tx.q, `
		SELECT `+gradeColumns+` FROM position_salary_grades
		WHERE position_id = ? AND grade = ? ORDER BY effective_from`, string(position), int(grade))
}

func (tx rateTx) GetGrade(ctx context.Context, id string) (*rates.PositionSalaryGrade, error) {
	g, err := scanGrade(tx.q.QueryRowContext(ctx, `SELECT `+gradeColumns+` FROM position_salary_grades WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "grade coefficient", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (tx rateTx) InsertGrade(ctx context.Context, g rates.PositionSalaryGrade) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO position_salary_grades (`+gradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, string(g.PositionID), int(g.Grade), g.Coefficient.String(),
		formatDate(g.Effective.From), nullDate(g.Effective.To),
		boolInt(g.IsActive), formatTime(g.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return &generic.OverlapError{Key: fmt.Sprintf("position:%s/grade:%d", g.PositionID, g.Grade), Effective: g.Effective.From, ExistingID: "open record"}
	}
	if err != nil {
		return fmt.Errorf("failed to insert grade coefficient: %w", err)
	}
	return nil
}

func (tx rateTx) CloseGrade(ctx context.Context, id string, to generic.Date) error {
	return execOne(ctx, tx.q, "grade coefficient", id,
		`UPDATE position_salary_grades SET effective_to = ? WHERE id = ?`, formatDate(to), id)
}

func (tx rateTx) SetGradeActive(ctx context.Context, id string, active bool) error {
	return execOne(ctx, tx.q, "grade coefficient", id,
		`UPDATE position_salary_grades SET is_active = ? WHERE id = ?`, boolInt(active), id)
}

// =============================================================================
// SCANNING
// =============================================================================

func queryWages(ctx context.Context, q querier, query string, args ...any) ([]rates.MinimumWage, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query minimum wages: %w", err)
	}
	defer rows.Close()

	out := []rates.MinimumWage{}
	for rows.Next() {
		w, err := scanWage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWage(row scanner) (rates.MinimumWage, error) {
	var (
		w                rates.MinimumWage
		region           int
		amount, from, at string
		to               sql.NullString
		active           int
	)
	if err := row.Scan(&w.ID, &region, &amount, &from, &to, &active, &at); err != nil {
		return w, err
	}
	var err error
	w.Region = generic.Region(region)
	w.IsActive = active == 1
	if w.Amount, err = decimal.NewFromString(amount); err != nil {
		return w, err
	}
	if w.Effective.From, err = parseDate(from); err != nil {
		return w, err
	}
	if w.Effective.To, err = parseNullDate(to); err != nil {
		return w, err
	}
	w.CreatedAt, err = parseTime(at)
	return w, err
}

func queryGrades(ctx context.Context, q querier, query string, args ...any) ([]rates.PositionSalaryGrade, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query grade coefficients: %w", err)
	}
	defer rows.Close()

	out := []rates.PositionSalaryGrade{}
	for rows.Next() {
		g, err := scanGrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanGrade(row scanner) (rates.PositionSalaryGrade, error) {
	var (
		g              rates.PositionSalaryGrade
		position       string
		grade, active  int
		coef, from, at string
		to             sql.NullString
	)
	if err := row.Scan(&g.ID, &position, &grade, &coef, &from, &to, &active, &at); err != nil {
		return g, err
	}
	var err error
	g.PositionID = generic.PositionID(position)
	g.Grade = generic.Grade(grade)
	g.IsActive = active == 1
	if g.Coefficient, err = decimal.NewFromString(coef); err != nil {
		return g, err
	}
	if g.Effective.From, err = parseDate(from); err != nil {
		return g, err
	}
	if g.Effective.To, err = parseNullDate(to); err != nil {
		return g, err
	}
	g.CreatedAt, err = parseTime(at)
	return g, err
}

// execOne runs an UPDATE that must hit exactly one row.
func execOne(ctx context.Context, q querier, kind, id, query string, args ...any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", kind, err)
	}
	ok, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if !ok {
		return &generic.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}
