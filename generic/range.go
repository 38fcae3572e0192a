package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// RANGE - Effective-dated validity window
// =============================================================================

// Range is the validity window of an effective-dated record.
//
// To holds the LAST covered day, nil meaning open-ended. Closing a record for
// a successor that starts on D writes To = D - 1, so the half-open interval
// of a record is [From, To+1) and adjacent records neither gap nor overlap.
type Range struct {
	From Date
	To   *Date
}

// OpenRange returns a range starting at from with no end.
func OpenRange(from Date) Range { return Range{From: from} }

func (r Range) IsOpen() bool { return r.To == nil }

// Contains reports whether d falls inside the range.
func (r Range) Contains(d Date) bool {
	if d.Before(r.From) {
		return false
	}
	return r.To == nil || d.BeforeOrEqual(*r.To)
}

// Overlaps reports whether the two ranges share at least one day.
func (r Range) Overlaps(o Range) bool {
	if r.To != nil && r.To.Before(o.From) {
		return false
	}
	if o.To != nil && o.To.Before(r.From) {
		return false
	}
	return true
}

// OverlapsPeriod reports whether the range shares at least one day with p.
func (r Range) OverlapsPeriod(p Period) bool {
	end := p.End
	return r.Overlaps(Range{From: p.Start, To: &end})
}

// Close returns a copy of r ending the day before successor starts.
func (r Range) Close(successor Date) Range {
	to := successor.AddDays(-1)
	return Range{From: r.From, To: &to}
}

func (r Range) String() string {
	if r.To == nil {
		return "[" + r.From.String() + ", open)"
	}
	return "[" + r.From.String() + ", " + r.To.String() + "]"
}

// =============================================================================
// PERIOD - Closed day interval, used for report months
// =============================================================================

// Period is the closed interval [Start, End].
type Period struct {
	Start Date
	End   Date
}

// MonthPeriod returns the calendar month as a period.
func MonthPeriod(year int, month time.Month) Period {
	return Period{Start: StartOfMonth(year, month), End: EndOfMonth(year, month)}
}

func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Key is the period identifier used for report exclusivity ("2024-10").
func (p Period) Key() string {
	return fmt.Sprintf("%04d-%02d", p.Start.Year(), int(p.Start.Month()))
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// ValidateMonth checks a (year, month) pair coming from a caller.
func ValidateMonth(year, month int) error {
	if month < 1 || month > 12 {
		return &ValidationError{Field: "month", Message: fmt.Sprintf("month must be 1..12, got %d", month)}
	}
	if year < 1970 || year > 9999 {
		return &ValidationError{Field: "year", Message: fmt.Sprintf("year out of range: %d", year)}
	}
	return nil
}
