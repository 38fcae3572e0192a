/*
Package rates is the Temporal Rate Store.

PURPOSE:
  Holds the two effective-dated rate tables the insurance salary is priced
  from: region minimum wages and per-position grade coefficients. Both are
  append-only in time: a new rate for a key closes the previously open one,
  history amounts are never edited.

INVARIANTS:
  1. For a region, no two active wage records overlap.
  2. For a (position, grade), no two active coefficient records overlap.
  3. Lookups never observe two open records for a key, nor a gap between a
     closed record and its successor (close + insert commit together).

LOOKUP SEMANTICS:
  A record covers X when EffectiveFrom <= X and (EffectiveTo is nil or
  X <= EffectiveTo). EffectiveTo is the last covered day.

  No covering record is NOT a zero rate. LookupWage/LookupGrade report
  ok=false, RequireWage/RequireGrade return a MissingRateError.
*/
package rates

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/insurance-engine/generic"
)

// MinimumWage is a region's statutory minimum wage over a date range.
type MinimumWage struct {
	ID        string
	Region    generic.Region
	Amount    decimal.Decimal
	Effective generic.Range
	IsActive  bool
	CreatedAt time.Time
}

// PositionSalaryGrade is a position's coefficient for one grade over a date range.
type PositionSalaryGrade struct {
	ID          string
	PositionID  generic.PositionID
	Grade       generic.Grade
	Coefficient decimal.Decimal
	Effective   generic.Range
	IsActive    bool
	CreatedAt   time.Time
}

// UpsertWageInput is the administrative command that records a new wage.
type UpsertWageInput struct {
	Region        generic.Region
	Amount        decimal.Decimal
	EffectiveFrom generic.Date
}

// UpsertGradeInput is the administrative command that records a new coefficient.
type UpsertGradeInput struct {
	PositionID    generic.PositionID
	Grade         generic.Grade
	Coefficient   decimal.Decimal
	EffectiveFrom generic.Date
}

func wageKey(region generic.Region) string {
	return "region:" + strconv.Itoa(int(region))
}

func gradeKey(position generic.PositionID, grade generic.Grade) string {
	return "position:" + string(position) + "/grade:" + strconv.Itoa(int(grade))
}
