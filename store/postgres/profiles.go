package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/profile"
)

// ProfileStore implements profile.Store.
type ProfileStore struct{ s *Store }

const profileColumns = `id, employee_id, position_id, grade, applied_from, applied_to, reason, source_document, created_by, created_at`

func (p *ProfileStore) WithTx(ctx context.Context, fn func(tx profile.Tx) error) error {
	return p.s.withLockedTx(ctx, lockProfiles, func(tx pgx.Tx) error {
		return fn(profileTx{q: tx})
	})
}

func (p *ProfileStore) Current(ctx context.Context, employee generic.EmployeeID) (*profile.Profile, error) {
	return currentProfile(ctx, p.s.pool, employee)
}

func (p *ProfileStore) AsOf(ctx context.Context, employee generic.EmployeeID, date generic.Date) (*profile.Profile, error) {
	return oneProfile(ctx, p.s.pool, `
		SELECT `+profileColumns+` FROM employee_insurance_profiles
		WHERE employee_id = $1 AND applied_from <= $2 AND (applied_to IS NULL OR applied_to >= $2)
		ORDER BY applied_from DESC LIMIT 1`, string(employee), dateArg(date))
}

func (p *ProfileStore) History(ctx context.Context, employee generic.EmployeeID) ([]profile.Profile, error) {
	return queryProfiles(ctx, p.s.pool, `
		SELECT `+profileColumns+` FROM employee_insurance_profiles
		WHERE employee_id = $1 ORDER BY applied_from`, string(employee))
}

func (p *ProfileStore) ListCurrent(ctx context.Context) ([]profile.Profile, error) {
	return queryProfiles(ctx, p.s.pool, `
		SELECT `+profileColumns+` FROM employee_insurance_profiles
		WHERE applied_to IS NULL ORDER BY employee_id`)
}

type profileTx struct{ q querier }

func (tx profileTx) Current(ctx context.Context, employee generic.EmployeeID) (*profile.Profile, error) {
	return oneProfile(ctx, tx.q, `
		SELECT `+profileColumns+` FROM employee_insurance_profiles
		WHERE employee_id = $1 AND applied_to IS NULL FOR UPDATE`, string(employee))
}

func (tx profileTx) Close(ctx context.Context, id string, to generic.Date) error {
	return execOne(ctx, tx.q, "profile", id,
		`UPDATE employee_insurance_profiles SET applied_to = $1 WHERE id = $2 AND applied_to IS NULL`, dateArg(to), id)
}

func (tx profileTx) Insert(ctx context.Context, p profile.Profile) error {
	var position *string
	if p.PositionID != nil {
		s := string(*p.PositionID)
		position = &s
	}
	_, err := tx.q.Exec(ctx, `
		INSERT INTO employee_insurance_profiles (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, string(p.EmployeeID), position, int(p.Grade),
		dateArg(p.Applied.From), nullDateArg(p.Applied.To),
		string(p.Reason), nullDocArg(p.SourceDocument), p.CreatedBy, p.CreatedAt)
	if isUniqueViolation(err) {
		return &generic.InvariantError{Op: "insert profile", Message: "employee " + string(p.EmployeeID) + " already has a current profile"}
	}
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func currentProfile(ctx context.Context, q querier, employee generic.EmployeeID) (*profile.Profile, error) {
	return oneProfile(ctx, q, `
		SELECT `+profileColumns+` FROM employee_insurance_profiles
		WHERE employee_id = $1 AND applied_to IS NULL`, string(employee))
}

func oneProfile(ctx context.Context, q querier, query string, args ...any) (*profile.Profile, error) {
	p, err := scanProfile(q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func queryProfiles(ctx context.Context, q querier, query string, args ...any) ([]profile.Profile, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	out := []profile.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProfile(row scanner) (profile.Profile, error) {
	var (
		p                profile.Profile
		employee, reason string
		position, doc    *string
		grade            int16
		from             time.Time
		to               *time.Time
	)
	if err := row.Scan(&p.ID, &employee, &position, &grade, &from, &to, &reason, &doc, &p.CreatedBy, &p.CreatedAt); err != nil {
		return p, err
	}
	p.EmployeeID = generic.EmployeeID(employee)
	p.Grade = generic.Grade(grade)
	p.Reason = profile.Reason(reason)
	p.SourceDocument = fromNullDoc(doc)
	if position != nil && *position != "" {
		pos := generic.PositionID(*position)
		p.PositionID = &pos
	}
	p.Applied = generic.Range{From: fromDate(from), To: fromNullDate(to)}
	return p, nil
}
