package generic

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type PositionID string

// DocumentID references a legal document (contract or contract appendix)
// owned by the contract subsystem.
type DocumentID string

// NewID returns a prefixed random identifier, e.g. "rpt-4f1c...".
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock abstracts "now" so batch jobs and expiry checks are testable.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }

// Today returns the current calendar day of c.
func Today(c Clock) Date { return DateOf(c.Now().UTC()) }

// =============================================================================
// REGION / GRADE
// =============================================================================

// Region is the statutory minimum-wage region (1..4).
type Region int

const (
	MinRegion Region = 1
	MaxRegion Region = 4
)

func (r Region) Valid() bool { return r >= MinRegion && r <= MaxRegion }

// Grade is a rung on a position's pay-coefficient ladder (1..7).
type Grade int

const (
	MinGrade Grade = 1
	MaxGrade Grade = 7
)

func (g Grade) Valid() bool { return g >= MinGrade && g <= MaxGrade }
