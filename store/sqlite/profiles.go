package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/profile"
)

// =============================================================================
// PROFILE STORE (profile.Store interface)
// =============================================================================

// ProfileStore implements profile.Store.
type ProfileStore struct{ s *Store }

const profileColumns = `id, employee_id, position_id, grade, applied_from, applied_to, reason, source_document, created_by, created_at`

func (p *ProfileStore) WithTx(ctx context.Context, fn func(tx profile.Tx) error) error {
	return p.s.withTx(ctx, func(q querier) error {
		return fn(profileTx{q: q})
	})
}

func (p *ProfileStore) Current(ctx context.Context, employee generic.EmployeeID) (*profile.Profile, error) {
	var out *profile.Profile
	err := p.s.read(func(q querier) error {
		var err error
		out, err = currentProfile(ctx, q, employee)
		return err
	})
	return out, err
}

func (p *ProfileStore) AsOf(ctx context.Context, employee generic.EmployeeID, date generic.Date) (*profile.Profile, error) {
	var out *profile.Profile
	err := p.s.read(func(q querier) error {
		pr, err := scanProfile(q.QueryRowContext(ctx, `
			SELECT `+profileColumns+` FROM employee_insurance_profiles
			WHERE employee_id = ? AND applied_from <= ? AND (applied_to IS NULL OR applied_to >= ?)
			ORDER BY applied_from DESC LIMIT 1`,
			string(employee), formatDate(date), formatDate(date)))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		out = &pr
		return nil
	})
	return out, err
}

func (p *ProfileStore) History(ctx context.Context, employee generic.EmployeeID) ([]profile.Profile, error) {
	var out []profile.Profile
	err := p.s.read(func(q querier) error {
		var err error
		out, err = queryProfiles(ctx, q, `
			SELECT `+profileColumns+` FROM employee_insurance_profiles
			WHERE employee_id = ? ORDER BY applied_from`, string(employee))
		return err
	})
	return out, err
}

func (p *ProfileStore) ListCurrent(ctx context.Context) ([]profile.Profile, error) {
	var out []profile.Profile
	err := p.s.read(func(q querier) error {
		var err error
		out, err = queryProfiles(ctx, q, `
			SELECT `+profileColumns+` FROM employee_insurance_profiles
			WHERE applied_to IS NULL ORDER BY employee_id`)
		return err
	})
	return out, err
}

type profileTx struct{ q querier }

func (tx profileTx) Current(ctx context.Context, employee generic.EmployeeID) (*profile.Profile, error) {
	return currentProfile(ctx, tx.q, employee)
}

func (tx profileTx) Close(ctx context.Context, id string, to generic.Date) error {
	return execOne(ctx, tx.q, "profile", id,
		`UPDATE employee_insurance_profiles SET applied_to = ? WHERE id = ? AND applied_to IS NULL`, formatDate(to), id)
}

func (tx profileTx) Insert(ctx context.Context, p profile.Profile) error {
	var position sql.NullString
	if p.PositionID != nil {
		position = nullString(string(*p.PositionID))
	}
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO employee_insurance_profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.EmployeeID), position, int(p.Grade),
		formatDate(p.Applied.From), nullDate(p.Applied.To),
		string(p.Reason), nullDoc(p.SourceDocument), p.CreatedBy, formatTime(p.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return &generic.InvariantError{Op: "insert profile", Message: "employee " + string(p.EmployeeID) + " already has a current profile"}
	}
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

func currentProfile(ctx context.Context, q querier, employee generic.EmployeeID) (*profile.Profile, error) {
	pr, err := scanProfile(q.QueryRowContext(ctx, `
		SELECT `+profileColumns+` FROM employee_insurance_profiles
		WHERE employee_id = ? AND applied_to IS NULL`, string(employee)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

func queryProfiles(ctx context.Context, q querier, query string, args ...any) ([]profile.Profile, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	out := []profile.Profile{}
	for rows.Next() {
		pr, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

func scanProfile(row scanner) (profile.Profile, error) {
	var (
		p                    profile.Profile
		employee, reason, at string
		from                 string
		position, to, doc    sql.NullString
		grade                int
	)
	if err := row.Scan(&p.ID, &employee, &position, &grade, &from, &to, &reason, &doc, &p.CreatedBy, &at); err != nil {
		return p, err
	}
	var err error
	p.EmployeeID = generic.EmployeeID(employee)
	p.Grade = generic.Grade(grade)
	p.Reason = profile.Reason(reason)
	p.SourceDocument = parseNullDoc(doc)
	if position.Valid && position.String != "" {
		pos := generic.PositionID(position.String)
		p.PositionID = &pos
	}
	if p.Applied.From, err = parseDate(from); err != nil {
		return p, err
	}
	if p.Applied.To, err = parseNullDate(to); err != nil {
		return p, err
	}
	p.CreatedAt, err = parseTime(at)
	return p, err
}
