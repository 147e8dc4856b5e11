package fees

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Directory lookups for unknown ids.
var ErrNotFound = errors.New("not found")

// NotFound wraps ErrNotFound with the entity and id.
func NotFound(entity string, id int64) error {
	return fmt.Errorf("%s %d: %w", entity, id, ErrNotFound)
}

// Directory provides the records the resolver reads.
type Directory interface {
	GetCollective(ctx context.Context, id int64) (*Collective, error)
	GetOrder(ctx context.Context, id int64) (*Order, error)
	GetPaymentMethod(ctx context.Context, id int64) (*PaymentMethod, error)
}

// DirectoryStore adds writes, used by seeding and tests. Saves are upserts
// keyed by the caller-provided id.
type DirectoryStore interface {
	Directory
	SaveCollective(ctx context.Context, c Collective) error
	SaveOrder(ctx context.Context, o Order) error
	SavePaymentMethod(ctx context.Context, pm PaymentMethod) error
}
