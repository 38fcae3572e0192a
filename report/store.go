package report

import (
	"context"
	"time"

	"github.com/warp/insurance-engine/participation"
)

// Store persists reports and their change records.
//
// Every write that touches a record re-checks, in the same write, that the
// owning report is still DRAFT.
type Store interface {
	// CreateReport fails with generic.ErrDuplicate when (Year, Month) exists.
	CreateReport(ctx context.Context, r Report) error

	// GetReport and FindReport return (nil, nil) when absent.
	GetReport(ctx context.Context, id string) (*Report, error)
	FindReport(ctx context.Context, year int, month time.Month) (*Report, error)
	ListReports(ctx context.Context) ([]Report, error)

	GetRecord(ctx context.Context, id string) (*ChangeRecord, error)
	ListRecords(ctx context.Context, reportID string) ([]ChangeRecord, error)

	// InsertRecord adds a record. generic.ErrDuplicate when the report already
	// has a record for the employee, a *generic.StateConflictError when the
	// report is no longer DRAFT.
	InsertRecord(ctx context.Context, rec ChangeRecord) error

	// RefreshRecord overwrites detection fields while the record is PENDING
	// and the report DRAFT. ok is false otherwise.
	RefreshRecord(ctx context.Context, rec ChangeRecord) (ok bool, err error)

	// Decide stores a decision while the record is PENDING and the report
	// DRAFT. ok is false otherwise.
	Decide(ctx context.Context, rec ChangeRecord) (ok bool, err error)

	// Finalize runs fn in one transaction over the current report row and its
	// records. The returned report is stored only if fn succeeds; the
	// participation writes made through w commit with it.
	Finalize(ctx context.Context, reportID string, fn FinalizeFunc) (*Report, error)

	// SetExport records the latest export artifact.
	SetExport(ctx context.Context, reportID, location, actor string, at time.Time) error
}

// FinalizeFunc decides the finalized report from the rows read inside the
// finalize transaction.
type FinalizeFunc func(ctx context.Context, r Report, records []ChangeRecord, w participation.Writer) (Report, error)
