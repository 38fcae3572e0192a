/*
errors.go - Centralized error taxonomy for the insurance engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Component packages return these (or wrap them) so callers can branch
  with errors.Is / errors.As without knowing which component failed.

ERROR CATEGORIES:
  1. Configuration errors - Missing or overlapping rate data. Fatal for the
     specific calculation; a salary is never defaulted to zero.
  2. Invariant violations - Second current profile slice, backdating into a
     closed window, duplicate (year, month) report.
  3. State conflicts - Workflow transitions not allowed from the current
     state (finalize with pending records, approve on a finalized report).
     A state conflict is also an invariant violation.
  4. Validation errors - Rejected at the boundary (missing note, bad grade).
  5. Not found - Unknown employee, report, record or suggestion.

USAGE:
  if errors.Is(err, generic.ErrConfiguration) {
      // missing rate for region/date, surface as-is
  }

  var conflict *generic.StateConflictError
  if errors.As(err, &conflict) {
      fmt.Println(conflict.Blocking) // record ids still pending
  }
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConfiguration is returned when rate data is missing or inconsistent.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvariantViolation is returned when a write would break a ledger or
	// workflow invariant. Nothing is committed.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrStateConflict is returned when an action is not allowed from the
	// current workflow state.
	ErrStateConflict = errors.New("state conflict")

	// ErrValidation is returned when caller input is malformed or incomplete.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when a referenced object doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned by stores when a uniqueness constraint rejects
	// an insert. Services translate it into a domain decision.
	ErrDuplicate = errors.New("duplicate")
)

// =============================================================================
// CONFIGURATION ERRORS
// =============================================================================

// MissingRateError reports a lookup with no covering rate record.
type MissingRateError struct {
	Kind     string // "minimum_wage" or "grade_coefficient"
	Region   Region
	Position PositionID
	Grade    Grade
	Date     Date
}

func (e *MissingRateError) Error() string {
	if e.Kind == "grade_coefficient" {
		return fmt.Sprintf("missing rate: no grade coefficient for position %s grade %d on %s",
			e.Position, e.Grade, e.Date)
	}
	return fmt.Sprintf("missing rate: no minimum wage for region %d on %s", e.Region, e.Date)
}

func (e *MissingRateError) Unwrap() error { return ErrConfiguration }

// OverlapError reports an insert that would overlap an active rate record.
type OverlapError struct {
	Key        string
	Effective  Date
	ExistingID string
	Existing   Range
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("overlapping rate for %s: effective %s conflicts with %s %s",
		e.Key, e.Effective, e.ExistingID, e.Existing)
}

func (e *OverlapError) Unwrap() error { return ErrConfiguration }

// MissingPositionError reports a profile that cannot be priced.
type MissingPositionError struct {
	EmployeeID EmployeeID
}

func (e *MissingPositionError) Error() string {
	return fmt.Sprintf("profile for employee %s has no position", e.EmployeeID)
}

func (e *MissingPositionError) Unwrap() error { return ErrConfiguration }

// =============================================================================
// INVARIANT / STATE ERRORS
// =============================================================================

// InvariantError describes a rejected write.
type InvariantError struct {
	Op      string
	Message string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// StateConflictError names the state that blocked an action and, where
// relevant, the records responsible.
type StateConflictError struct {
	Op       string
	State    string
	Blocking []string
}

func (e *StateConflictError) Error() string {
	msg := fmt.Sprintf("%s not allowed in state %s", e.Op, e.State)
	if len(e.Blocking) > 0 {
		msg += " (blocking: " + strings.Join(e.Blocking, ", ") + ")"
	}
	return msg
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }

// Is makes a state conflict match ErrInvariantViolation too.
func (e *StateConflictError) Is(target error) bool {
	return target == ErrInvariantViolation
}

// =============================================================================
// VALIDATION / LOOKUP ERRORS
// =============================================================================

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true for invariant violations and state conflicts.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvariantViolation) || errors.Is(err, ErrStateConflict)
}

// IsClientError returns true if the error is due to caller input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || IsConflict(err) || IsNotFound(err)
}
