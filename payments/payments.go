/*
Package payments abstracts the external rails a refund is sent to.

PURPOSE:
  Before the ledger records a refund, the money may have to move back on
  the rail it came from (card processor, wallet). A Provider sends that
  instruction and reports what the processor actually refunded, including
  its own fee.

  Manual and offline methods (bank transfer, added funds) have nothing to
  call: RefundTransactionOnlyInDatabase() is true and only the ledger moves.

SEE ALSO:
  - refund/service.go: calls the provider, then runs the cascade
*/
package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/warp/ledger-engine/ledger"
)

// ErrUnknownProvider is returned by the registry for unregistered services.
var ErrUnknownProvider = errors.New("unknown payment provider")

// Result is what the rail reported for a refund.
type Result struct {
	// Processor fee the rail gave back, in host currency minor units.
	RefundedProcessorFee int64
	// Metadata to attach to the original rows (charge state, refund ids).
	Data ledger.Data
}

// Provider sends refunds to a payment rail.
type Provider interface {
	RefundTransaction(ctx context.Context, tx ledger.Transaction, actor ledger.Actor, message string) (Result, error)
	RefundTransactionOnlyInDatabase() bool
}

// Registry maps a payment method service name to its provider.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	fallback  Provider
}

// NewRegistry returns a registry. Services without a provider resolve to
// fallback when it is not nil.
func NewRegistry(fallback Provider) *Registry {
	return &Registry{providers: make(map[string]Provider), fallback: fallback}
}

func (r *Registry) Register(service string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[service] = p
}

func (r *Registry) Get(service string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[service]; ok {
		return p, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%q: %w", service, ErrUnknownProvider)
}

// Manual is the provider of offline methods. It never calls out.
type Manual struct{}

func (Manual) RefundTransaction(_ context.Context, tx ledger.Transaction, _ ledger.Actor, _ string) (Result, error) {
	return Result{}, nil
}

func (Manual) RefundTransactionOnlyInDatabase() bool { return true }
