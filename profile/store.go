package profile

import (
	"context"

	"github.com/warp/insurance-engine/generic"
)

// Store persists ledger slices. Read methods return (nil, nil) when nothing
// matches; the Ledger turns that into NotFoundError.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Current(ctx context.Context, employee generic.EmployeeID) (*Profile, error)
	AsOf(ctx context.Context, employee generic.EmployeeID, date generic.Date) (*Profile, error)
	History(ctx context.Context, employee generic.EmployeeID) ([]Profile, error)

	// ListCurrent returns every employee's current slice.
	ListCurrent(ctx context.Context) ([]Profile, error)
}

type Tx interface {
	Current(ctx context.Context, employee generic.EmployeeID) (*Profile, error)
	Close(ctx context.Context, id string, to generic.Date) error
	Insert(ctx context.Context, p Profile) error
}
