package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/suggestion"
)

// SuggestionStore implements suggestion.Store.
type SuggestionStore struct{ s *Store }

const suggestionColumns = `id, employee_id, profile_id, current_grade, suggested_grade, tenure_years, status,
	suggested_at, expires_at, appendix_id, decided_by, decided_at, note`

func (ss *SuggestionStore) Insert(ctx context.Context, sg suggestion.Suggestion) error {
	_, err := ss.s.pool.Exec(ctx, `
		INSERT INTO grade_suggestions (`+suggestionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sg.ID, string(sg.EmployeeID), sg.ProfileID, int(sg.CurrentGrade), int(sg.SuggestedGrade),
		sg.TenureYears, string(sg.Status), sg.SuggestedAt, sg.ExpiresAt,
		nullDocArg(sg.AppendixID), sg.DecidedBy, sg.DecidedAt, sg.Note)
	if isUniqueViolation(err) {
		return generic.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert suggestion: %w", err)
	}
	return nil
}

func (ss *SuggestionStore) Get(ctx context.Context, id string) (*suggestion.Suggestion, error) {
	sg, err := scanSuggestion(ss.s.pool.QueryRow(ctx, `SELECT `+suggestionColumns+` FROM grade_suggestions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sg, nil
}

func (ss *SuggestionStore) List(ctx context.Context, status suggestion.Status) ([]suggestion.Suggestion, error) {
	return querySuggestions(ctx, ss.s.pool, `
		SELECT `+suggestionColumns+` FROM grade_suggestions
		WHERE ($1 = '' OR status = $1) ORDER BY suggested_at, id`, string(status))
}

func (ss *SuggestionStore) ForEmployee(ctx context.Context, employee generic.EmployeeID) ([]suggestion.Suggestion, error) {
	return querySuggestions(ctx, ss.s.pool, `
		SELECT `+suggestionColumns+` FROM grade_suggestions
		WHERE employee_id = $1 ORDER BY suggested_at, id`, string(employee))
}

func (ss *SuggestionStore) CompareAndSet(ctx context.Context, next suggestion.Suggestion, from suggestion.Status) (bool, error) {
	tag, err := ss.s.pool.Exec(ctx, `
		UPDATE grade_suggestions
		SET status = $1, appendix_id = $2, decided_by = $3, decided_at = $4, note = $5
		WHERE id = $6 AND status = $7`,
		string(next.Status), nullDocArg(next.AppendixID), next.DecidedBy, next.DecidedAt, next.Note,
		next.ID, string(from))
	if err != nil {
		return false, fmt.Errorf("update suggestion: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (ss *SuggestionStore) ExpireDue(ctx context.Context, now time.Time) ([]suggestion.Suggestion, error) {
	return querySuggestions(ctx, ss.s.pool, `
		UPDATE grade_suggestions SET status = 'EXPIRED'
		WHERE status = 'PENDING' AND expires_at < $1
		RETURNING `+suggestionColumns, now)
}

func querySuggestions(ctx context.Context, q querier, query string, args ...any) ([]suggestion.Suggestion, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query suggestions: %w", err)
	}
	defer rows.Close()

	out := []suggestion.Suggestion{}
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

func scanSuggestion(row scanner) (suggestion.Suggestion, error) {
	var (
		sg                 suggestion.Suggestion
		employee, status   string
		current, suggested int16
		appendix           *string
	)
	if err := row.Scan(&sg.ID, &employee, &sg.ProfileID, &current, &suggested, &sg.TenureYears, &status,
		&sg.SuggestedAt, &sg.ExpiresAt, &appendix, &sg.DecidedBy, &sg.DecidedAt, &sg.Note); err != nil {
		return sg, err
	}
	sg.EmployeeID = generic.EmployeeID(employee)
	sg.CurrentGrade = generic.Grade(current)
	sg.SuggestedGrade = generic.Grade(suggested)
	sg.Status = suggestion.Status(status)
	sg.AppendixID = fromNullDoc(appendix)
	return sg, nil
}
