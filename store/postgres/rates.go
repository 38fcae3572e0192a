package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/rates"
)

// RateStore implements rates.Store.
type RateStore struct{ s *Store }

const wageColumns = `id, region, amount::text, effective_from, effective_to, is_active, created_at`
const gradeColumns = `id, position_id, grade, coefficient::text, effective_from, effective_to, is_active, created_at`

func (r *RateStore) WithTx(ctx context.Context, fn func(tx rates.Tx) error) error {
	return r.s.withLockedTx(ctx, lockRates, func(tx pgx.Tx) error {
		return fn(rateTx{q: tx})
	})
}

func (r *RateStore) WagesCovering(ctx context.Context, region generic.Region, date generic.Date) ([]rates.MinimumWage, error) {
	return queryWages(ctx, r.s.pool, `
		SELECT `+wageColumns+` FROM minimum_wages
		WHERE region = $1 AND is_active
		  AND effective_from <= $2 AND (effective_to IS NULL OR effective_to >= $2)
		ORDER BY effective_from`, int(region), dateArg(date))
}

func (r *RateStore) GradesCovering(ctx context.Context, position generic.PositionID, grade generic.Grade, date generic.Date) ([]rates.PositionSalaryGrade, error) {
	return queryGrades(ctx, r.s.pool, `
		SELECT `+gradeColumns+` FROM position_salary_grades
		WHERE position_id = $1 AND grade = $2 AND is_active
		  AND effective_from <= $3 AND (effective_to IS NULL OR effective_to >= $3)
		ORDER BY effective_from`, string(position), int(grade), dateArg(date))
}

func (r *RateStore) ListWages(ctx context.Context, region generic.Region) ([]rates.MinimumWage, error) {
	return queryWages(ctx, r.s.pool, `
		SELECT `+wageColumns+` FROM minimum_wages
		WHERE ($1 = 0 OR region = $1)
		ORDER BY region, effective_from`, int(region))
}

func (r *RateStore) ListGrades(ctx context.Context, position generic.PositionID) ([]rates.PositionSalaryGrade, error) {
	return queryGrades(ctx, r.s.pool, `
		SELECT `+gradeColumns+` FROM position_salary_grades
		WHERE ($1 = '' OR position_id = $1)
		ORDER BY position_id, grade, effective_from`, string(position))
}

type rateTx struct{ q querier }

func (tx rateTx) WagesForRegion(ctx context.Context, region generic.Region) ([]rates.MinimumWage, error) {
	return queryWages(ctx, tx.q, `
		SELECT `+wageColumns+` FROM minimum_wages WHERE region = $1 ORDER BY effective_from`, int(region))
}

func (tx rateTx) GetWage(ctx context.Context, id string) (*rates.MinimumWage, error) {
	w, err := scanWage(tx.q.QueryRow(ctx, `SELECT `+wageColumns+` FROM minimum_wages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "minimum wage", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (tx rateTx) InsertWage(ctx context.Context, w rates.MinimumWage) error {
	_, err := tx.q.Exec(ctx, `
		INSERT INTO minimum_wages (id, region, amount, effective_from, effective_to, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.ID, int(w.Region), w.Amount.String(), dateArg(w.Effective.From), nullDateArg(w.Effective.To),
		w.IsActive, w.CreatedAt)
	if isUniqueViolation(err) {
		return &generic.OverlapError{Key: fmt.Sprintf("region:%d", w.Region), Effective: w.Effective.From, ExistingID: "open record"}
	}
	if err != nil {
		return fmt.Errorf("insert minimum wage: %w", err)
	}
	return nil
}

func (tx rateTx) CloseWage(ctx context.Context, id string, to generic.Date) error {
	return execOne(ctx, tx.q, "minimum wage", id,
		`UPDATE minimum_wages SET effective_to = $1 WHERE id = $2`, dateArg(to), id)
}

func (tx rateTx) SetWageActive(ctx context.Context, id string, active bool) error {
	return execOne(ctx, tx.q, "minimum wage", id,
		`UPDATE minimum_wages SET is_active = $1 WHERE id = $2`, active, id)
}

func (tx rateTx) GradesForKey(ctx context.Context, position generic.PositionID, grade generic.Grade) ([]rates.PositionSalaryGrade, error) {
	return queryGrades(ctx, tx.q, `
		SELECT `+gradeColumns+` FROM position_salary_grades
		WHERE position_id = $1 AND grade = $2 ORDER BY effective_from`, string(position), int(grade))
}

func (tx rateTx) GetGrade(ctx context.Context, id string) (*rates.PositionSalaryGrade, error) {
	g, err := scanGrade(tx.q.QueryRow(ctx, `SELECT `+gradeColumns+` FROM position_salary_grades WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "grade coefficient", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (tx rateTx) InsertGrade(ctx context.Context, g rates.PositionSalaryGrade) error {
	_, err := tx.q.Exec(ctx, `
		INSERT INTO position_salary_grades (id, position_id, grade, coefficient, effective_from, effective_to, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		g.ID, string(g.PositionID), int(g.Grade), g.Coefficient.String(),
		dateArg(g.Effective.From), nullDateArg(g.Effective.To), g.IsActive, g.CreatedAt)
	if isUniqueViolation(err) {
		return &generic.OverlapError{Key: fmt.Sprintf("position:%s/grade:%d", g.PositionID, g.Grade), Effective: g.Effective.From, ExistingID: "open record"}
	}
	if err != nil {
		return fmt.Errorf("insert grade coefficient: %w", err)
	}
	return nil
}

func (tx rateTx) CloseGrade(ctx context.Context, id string, to generic.Date) error {
	return execOne(ctx, tx.q, "grade coefficient", id,
		`UPDATE position_salary_grades SET effective_to = $1 WHERE id = $2`, dateArg(to), id)
}

func (tx rateTx) SetGradeActive(ctx context.Context, id string, active bool) error {
	return execOne(ctx, tx.q, "grade coefficient", id,
		`UPDATE position_salary_grades SET is_active = $1 WHERE id = $2`, active, id)
}

func queryWages(ctx context.Context, q querier, query string, args ...any) ([]rates.MinimumWage, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query minimum wages: %w", err)
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
		w      rates.MinimumWage
		region int16
		amount string
		from   time.Time
		to     *time.Time
	)
	if err := row.Scan(&w.ID, &region, &amount, &from, &to, &w.IsActive, &w.CreatedAt); err != nil {
		return w, err
	}
	var err error
	w.Region = generic.Region(region)
	w.Effective = generic.Range{From: fromDate(from), To: fromNullDate(to)}
	w.Amount, err = decimal.NewFromString(amount)
	return w, err
}

func queryGrades(ctx context.Context, q querier, query string, args ...any) ([]rates.PositionSalaryGrade, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query grade coefficients: %w", err)
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
		position, coef string
		grade          int16
		from           time.Time
		to             *time.Time
	)
	if err := row.Scan(&g.ID, &position, &grade, &coef, &from, &to, &g.IsActive, &g.CreatedAt); err != nil {
		return g, err
	}
	var err error
	g.PositionID = generic.PositionID(position)
	g.Grade = generic.Grade(grade)
	g.Effective = generic.Range{From: fromDate(from), To: fromNullDate(to)}
	g.Coefficient, err = decimal.NewFromString(coef)
	return g, err
}
