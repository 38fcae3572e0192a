package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/suggestion"
)

// =============================================================================
// SUGGESTION STORE (suggestion.Store interface)
// =============================================================================

// SuggestionStore implements suggestion.Store.
type SuggestionStore struct{ s *Store }

const suggestionColumns = `id, employee_id, profile_id, current_grade, suggested_grade, tenure_years, status,
	suggested_at, expires_at, appendix_id, decided_by, decided_at, note`

func (ss *SuggestionStore) Insert(ctx context.Context, sg suggestion.Suggestion) error {
	return ss.s.write(func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO grade_suggestions (`+suggestionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sg.ID, string(sg.EmployeeID), sg.ProfileID, int(sg.CurrentGrade), int(sg.SuggestedGrade),
			sg.TenureYears, string(sg.Status), formatTime(sg.SuggestedAt), formatTime(sg.ExpiresAt),
			nullDoc(sg.AppendixID), sg.DecidedBy, nullTime(sg.DecidedAt), sg.Note,
		)
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("failed to insert suggestion: %w", err)
		}
		return nil
	})
}

func (ss *SuggestionStore) Get(ctx context.Context, id string) (*suggestion.Suggestion, error) {
	var out *suggestion.Suggestion
	err := ss.s.read(func(q querier) error {
		sg, err := scanSuggestion(q.QueryRowContext(ctx, `SELECT `+suggestionColumns+` FROM grade_suggestions WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		out = &sg
		return nil
	})
	return out, err
}

func (ss *SuggestionStore) List(ctx context.Context, status suggestion.Status) ([]suggestion.Suggestion, error) {
	var out []suggestion.Suggestion
	err := ss.s.read(func(q querier) error {
		var err error
		out, err = querySuggestions(ctx, q, `
			SELECT `+suggestionColumns+` FROM grade_suggestions
			WHERE (? = '' OR status = ?) ORDER BY suggested_at, id`, string(status), string(status))
		return err
	})
	return out, err
}

func (ss *SuggestionStore) ForEmployee(ctx context.Context, employee generic.EmployeeID) ([]suggestion.Suggestion, error) {
	var out []suggestion.Suggestion
	err := ss.s.read(func(q querier) error {
		var err error
		out, err = querySuggestions(ctx, q, `
			SELECT `+suggestionColumns+` FROM grade_suggestions
			WHERE employee_id = ? ORDER BY suggested_at, id`, string(employee))
		return err
	})
	return out, err
}

func (ss *SuggestionStore) CompareAndSet(ctx context.Context, next suggestion.Suggestion, from suggestion.Status) (bool, error) {
	var ok bool
	err := ss.s.write(func(q querier) error {
		res, err := q.ExecContext(ctx, `
			UPDATE grade_suggestions
			SET status = ?, appendix_id = ?, decided_by = ?, decided_at = ?, note = ?
			WHERE id = ? AND status = ?`,
			string(next.Status), nullDoc(next.AppendixID), next.DecidedBy, nullTime(next.DecidedAt), next.Note,
			next.ID, string(from),
		)
		if err != nil {
			return fmt.Errorf("failed to update suggestion: %w", err)
		}
		ok, err = rowsAffected(res)
		return err
	})
	return ok, err
}

func (ss *SuggestionStore) ExpireDue(ctx context.Context, now time.Time) ([]suggestion.Suggestion, error) {
	var out []suggestion.Suggestion
	err := ss.s.withTx(ctx, func(q querier) error {
		due, err := querySuggestions(ctx, q, `
			SELECT `+suggestionColumns+` FROM grade_suggestions
			WHERE status = ? AND expires_at < ? ORDER BY suggested_at, id`,
			string(suggestion.StatusPending), formatTime(now))
		if err != nil {
			return err
		}
		for _, sg := range due {
			if _, err := q.ExecContext(ctx, `UPDATE grade_suggestions SET status = ? WHERE id = ?`,
				string(suggestion.StatusExpired), sg.ID); err != nil {
				return fmt.Errorf("failed to expire suggestion %s: %w", sg.ID, err)
			}
			sg.Status = suggestion.StatusExpired
			out = append(out, sg)
		}
		return nil
	})
	return out, err
}

func querySuggestions(ctx context.Context, q querier, query string, args ...any) ([]suggestion.Suggestion, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query suggestions: %w", err)
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
		sg                     suggestion.Suggestion
		employee, status       string
		suggestedAt, expiresAt string
		current, suggested     int
		appendix, decidedAt    sql.NullString
	)
	if err := row.Scan(&sg.ID, &employee, &sg.ProfileID, &current, &suggested, &sg.TenureYears, &status,
		&suggestedAt, &expiresAt, &appendix, &sg.DecidedBy, &decidedAt, &sg.Note); err != nil {
		return sg, err
	}
	var err error
	sg.EmployeeID = generic.EmployeeID(employee)
	sg.CurrentGrade = generic.Grade(current)
	sg.SuggestedGrade = generic.Grade(suggested)
	sg.Status = suggestion.Status(status)
	sg.AppendixID = parseNullDoc(appendix)
	if sg.SuggestedAt, err = parseTime(suggestedAt); err != nil {
		return sg, err
	}
	if sg.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return sg, err
	}
	sg.DecidedAt, err = parseNullTime(decidedAt)
	return sg, err
}
