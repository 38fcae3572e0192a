/*
Package profile is the Employee Insurance Profile Ledger.

PURPOSE:
  Records, per employee, which position and grade price their insurance
  salary over which dates. The ledger is a sequence of contiguous slices;
  the last one is open-ended and called the current slice.

INVARIANTS:
  1. After the first INITIAL (or BACKFILL) slice, an employee has exactly one
     slice with AppliedTo == nil.
  2. Slices never overlap. Closing a slice for a change effective on D sets
     its AppliedTo to D - 1.
  3. A change may not start on or before the current slice's AppliedFrom.

WRITE PATH:
  ApplyChange takes a per-employee lock and then a store transaction, so the
  loser of two racing changes is re-validated against the winner's slice.
*/
package profile

import (
	"time"

	"github.com/warp/insurance-engine/generic"
)

// Reason explains why a slice was opened.
type Reason string

const (
	ReasonInitial        Reason = "INITIAL"
	ReasonSeniority      Reason = "SENIORITY"
	ReasonPromotion      Reason = "PROMOTION"
	ReasonAdjustment     Reason = "ADJUSTMENT"
	ReasonPositionChange Reason = "POSITION_CHANGE"
	ReasonBackfill       Reason = "BACKFILL"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonInitial, ReasonSeniority, ReasonPromotion, ReasonAdjustment, ReasonPositionChange, ReasonBackfill:
		return true
	}
	return false
}

// opensLedger reports whether the reason may create an employee's first slice.
func (r Reason) opensLedger() bool {
	return r == ReasonInitial || r == ReasonBackfill
}

// Profile is one slice of an employee's ledger.
type Profile struct {
	ID             string
	EmployeeID     generic.EmployeeID
	PositionID     *generic.PositionID
	Grade          generic.Grade
	Applied        generic.Range
	Reason         Reason
	SourceDocument *generic.DocumentID
	CreatedBy      string
	CreatedAt      time.Time
}

func (p Profile) IsCurrent() bool { return p.Applied.IsOpen() }

// Position returns the position id or "" when unset.
func (p Profile) Position() generic.PositionID {
	if p.PositionID == nil {
		return ""
	}
	return *p.PositionID
}

// ChangeInput opens a new slice.
//
// Grade 0 keeps the current grade (1 for a first slice). A nil PositionID
// keeps the current position.
type ChangeInput struct {
	EmployeeID     generic.EmployeeID
	Grade          generic.Grade
	PositionID     *generic.PositionID
	Reason         Reason
	EffectiveDate  generic.Date
	SourceDocument *generic.DocumentID
	Actor          string
}
