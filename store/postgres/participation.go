package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/participation"
)

// ParticipationStore implements participation.Store.
type ParticipationStore struct{ s *Store }

const participationColumns = `id, employee_id, start_date, end_date, social, health, unemployment,
	insurance_salary::text, status, source_contract, source_appendix, source_report, created_at`

func (ps *ParticipationStore) Latest(ctx context.Context, employee generic.EmployeeID, before generic.Date) (*participation.Participation, error) {
	return oneParticipation(ctx, ps.s.pool, `
		SELECT `+participationColumns+` FROM insurance_participations
		WHERE employee_id = $1 AND start_date < $2
		ORDER BY start_date DESC, created_at DESC LIMIT 1`, string(employee), dateArg(before))
}

func (ps *ParticipationStore) History(ctx context.Context, employee generic.EmployeeID) ([]participation.Participation, error) {
	rows, err := ps.s.pool.Query(ctx, `
		SELECT `+participationColumns+` FROM insurance_participations
		WHERE employee_id = $1 ORDER BY start_date, created_at`, string(employee))
	if err != nil {
		return nil, fmt.Errorf("query participations: %w", err)
	}
	defer rows.Close()

	out := []participation.Participation{}
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Put seeds a baseline record.
func (ps *ParticipationStore) Put(ctx context.Context, p participation.Participation) error {
	return insertParticipation(ctx, ps.s.pool, p)
}

// participationWriter is bound to the finalize transaction.
type participationWriter struct{ q querier }

func (w participationWriter) Open(ctx context.Context, employee generic.EmployeeID) (*participation.Participation, error) {
	return oneParticipation(ctx, w.q, `
		SELECT `+participationColumns+` FROM insurance_participations
		WHERE employee_id = $1 AND end_date IS NULL
		ORDER BY start_date DESC LIMIT 1 FOR UPDATE`, string(employee))
}

func (w participationWriter) Close(ctx context.Context, id string, end generic.Date, status participation.Status) error {
	return execOne(ctx, w.q, "participation", id,
		`UPDATE insurance_participations SET end_date = $1, status = $2 WHERE id = $3`,
		dateArg(end), string(status), id)
}

func (w participationWriter) Insert(ctx context.Context, p participation.Participation) error {
	return insertParticipation(ctx, w.q, p)
}

func insertParticipation(ctx context.Context, q querier, p participation.Participation) error {
	_, err := q.Exec(ctx, `
		INSERT INTO insurance_participations (id, employee_id, start_date, end_date, social, health,
			unemployment, insurance_salary, status, source_contract, source_appendix, source_report, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, string(p.EmployeeID), dateArg(p.Start), nullDateArg(p.End),
		p.Coverage.Social, p.Coverage.Health, p.Coverage.Unemployment,
		p.InsuranceSalary.String(), string(p.Status), nullDocArg(p.SourceContract), nullDocArg(p.SourceAppendix),
		p.SourceReport, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert participation: %w", err)
	}
	return nil
}

func oneParticipation(ctx context.Context, q querier, query string, args ...any) (*participation.Participation, error) {
	p, err := scanParticipation(q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanParticipation(row scanner) (participation.Participation, error) {
	var (
		p                  participation.Participation
		employee, salary   string
		status             string
		start              time.Time
		end                *time.Time
		contract, appendix *string
	)
	if err := row.Scan(&p.ID, &employee, &start, &end, &p.Coverage.Social, &p.Coverage.Health, &p.Coverage.Unemployment,
		&salary, &status, &contract, &appendix, &p.SourceReport, &p.CreatedAt); err != nil {
		return p, err
	}
	var err error
	p.EmployeeID = generic.EmployeeID(employee)
	p.Status = participation.Status(status)
	p.Start = fromDate(start)
	p.End = fromNullDate(end)
	p.SourceContract = fromNullDoc(contract)
	p.SourceAppendix = fromNullDoc(appendix)
	p.InsuranceSalary, err = decimal.NewFromString(salary)
	return p, err
}
