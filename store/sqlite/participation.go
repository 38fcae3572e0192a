package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/participation"
)

// ParticipationStore implements participation.Store.
type ParticipationStore struct{ s *Store }

const participationColumns = `id, employee_id, start_date, end_date, social, health, unemployment,
	insurance_salary, status, source_contract, source_appendix, source_report, created_at`

func (ps *ParticipationStore) Latest(ctx context.Context, employee generic.EmployeeID, before generic.Date) (*participation.Participation, error) {
	var out *participation.Participation
	err := ps.s.read(func(q querier) error {
		p, err := scanParticipation(q.QueryRowContext(ctx, `
			SELECT `+participationColumns+` FROM insurance_participations
			WHERE employee_id = ? AND start_date < ?
			ORDER BY start_date DESC, created_at DESC LIMIT 1`,
			string(employee), formatDate(before)))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		out = &p
		return nil
	})
	return out, err
}

func (ps *ParticipationStore) History(ctx context.Context, employee generic.EmployeeID) ([]participation.Participation, error) {
	var out []participation.Participation
	err := ps.s.read(func(q querier) error {
		rows, err := q.QueryContext(ctx, `
			SELECT `+participationColumns+` FROM insurance_participations
			WHERE employee_id = ? ORDER BY start_date, created_at`, string(employee))
		if err != nil {
			return fmt.Errorf("failed to query participations: %w", err)
		}
		defer rows.Close()
		out = []participation.Participation{}
		for rows.Next() {
			p, err := scanParticipation(rows)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}

// Put seeds a baseline record.
func (ps *ParticipationStore) Put(ctx context.Context, p participation.Participation) error {
	return ps.s.write(func(q querier) error {
		return insertParticipation(ctx, q, p)
	})
}

// participationWriter is bound to the finalize transaction.
type participationWriter struct{ q querier }

func (w participationWriter) Open(ctx context.Context, employee generic.EmployeeID) (*participation.Participation, error) {
	p, err := scanParticipation(w.q.QueryRowContext(ctx, `
		SELECT `+participationColumns+` FROM insurance_participations
		WHERE employee_id = ? AND end_date IS NULL
		ORDER BY start_date DESC LIMIT 1`, string(employee)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (w participationWriter) Close(ctx context.Context, id string, end generic.Date, status participation.Status) error {
	return execOne(ctx, w.q, "participation", id,
		`UPDATE insurance_participations SET end_date = ?, status = ? WHERE id = ?`,
		formatDate(end), string(status), id)
}

func (w participationWriter) Insert(ctx context.Context, p participation.Participation) error {
	return insertParticipation(ctx, w.q, p)
}

func insertParticipation(ctx context.Context, q querier, p participation.Participation) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO insurance_participations (`+participationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.EmployeeID), formatDate(p.Start), nullDate(p.End),
		boolInt(p.Coverage.Social), boolInt(p.Coverage.Health), boolInt(p.Coverage.Unemployment),
		p.InsuranceSalary.String(), string(p.Status), nullDoc(p.SourceContract), nullDoc(p.SourceAppendix),
		p.SourceReport, formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert participation: %w", err)
	}
	return nil
}

func scanParticipation(row scanner) (participation.Participation, error) {
	var (
		p                            participation.Participation
		employee, start, salary      string
		status, createdAt            string
		end, contract, appendix      sql.NullString
		social, health, unemployment int
	)
	if err := row.Scan(&p.ID, &employee, &start, &end, &social, &health, &unemployment,
		&salary, &status, &contract, &appendix, &p.SourceReport, &createdAt); err != nil {
		return p, err
	}
	var err error
	p.EmployeeID = generic.EmployeeID(employee)
	p.Status = participation.Status(status)
	p.Coverage.Social = social == 1
	p.Coverage.Health = health == 1
	p.Coverage.Unemployment = unemployment == 1
	p.SourceContract = parseNullDoc(contract)
	p.SourceAppendix = parseNullDoc(appendix)
	if p.Start, err = parseDate(start); err != nil {
		return p, err
	}
	if p.End, err = parseNullDate(end); err != nil {
		return p, err
	}
	if p.InsuranceSalary, err = decimal.NewFromString(salary); err != nil {
		return p, err
	}
	p.CreatedAt, err = parseTime(createdAt)
	return p, err
}
