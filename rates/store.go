package rates

import (
	"context"

	"github.com/warp/insurance-engine/generic"
)

// Store persists rate tables.
//
// Reads may run concurrently with each other. WithTx serializes writers and
// must make the close of the previous record and the insert of its
// successor visible together.
type Store interface {
	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// WagesCovering returns active wage records for region covering date.
	// More than one result means the table is corrupt.
	WagesCovering(ctx context.Context, region generic.Region, date generic.Date) ([]MinimumWage, error)

	// GradesCovering returns active coefficient records covering date.
	GradesCovering(ctx context.Context, position generic.PositionID, grade generic.Grade, date generic.Date) ([]PositionSalaryGrade, error)

	// ListWages returns wage history ordered by EffectiveFrom. Region 0 = all regions.
	ListWages(ctx context.Context, region generic.Region) ([]MinimumWage, error)

	// ListGrades returns coefficient history ordered by position, grade, EffectiveFrom.
	// Empty position = all positions.
	ListGrades(ctx context.Context, position generic.PositionID) ([]PositionSalaryGrade, error)
}

// Tx is the write view handed to WithTx callbacks.
type Tx interface {
	WagesForRegion(ctx context.Context, region generic.Region) ([]MinimumWage, error)
	GetWage(ctx context.Context, id string) (*MinimumWage, error)
	InsertWage(ctx context.Context, w MinimumWage) error
	CloseWage(ctx context.Context, id string, to generic.Date) error
	SetWageActive(ctx context.Context, id string, active bool) error

	GradesForKey(ctx context.Context, position generic.PositionID, grade generic.Grade) ([]PositionSalaryGrade, error)
	GetGrade(ctx context.Context, id string) (*PositionSalaryGrade, error)
	InsertGrade(ctx context.Context, g PositionSalaryGrade) error
	CloseGrade(ctx context.Context, id string, to generic.Date) error
	SetGradeActive(ctx context.Context, id string, active bool) error
}
