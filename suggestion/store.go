package suggestion

import (
	"context"
	"time"

	"github.com/warp/insurance-engine/generic"
)

// Store persists suggestions.
type Store interface {
	// Insert fails with generic.ErrDuplicate when the employee already has a
	// PENDING suggestion.
	Insert(ctx context.Context, s Suggestion) error

	// Get returns (nil, nil) for an unknown id.
	Get(ctx context.Context, id string) (*Suggestion, error)

	// List returns suggestions ordered by SuggestedAt. Empty status = all.
	List(ctx context.Context, status Status) ([]Suggestion, error)

	ForEmployee(ctx context.Context, employee generic.EmployeeID) ([]Suggestion, error)

	// CompareAndSet replaces the stored row with next only while its status
	// is still from. ok is false when the row moved on.
	CompareAndSet(ctx context.Context, next Suggestion, from Status) (ok bool, err error)

	// ExpireDue moves every PENDING suggestion with ExpiresAt before now to
	// EXPIRED and returns the moved rows.
	ExpireDue(ctx context.Context, now time.Time) ([]Suggestion, error)
}
