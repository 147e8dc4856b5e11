/*
Package fx provides currency conversion rates for new charges.

PURPOSE:
  Rate(from, to, date) returns how many units of `to` one unit of `from`
  buys. It is consulted when a charge is first recorded; refunds replay
  the rate stored on the original transaction and never call it.

PROVIDERS:
  - Static: fixed table, identity for same currency, inverse lookup
  - Cache:  wraps any Provider with an explicit TTL and Invalidate()

  There are no package-level caches. Whoever needs a cache constructs one
  and passes it where it is used.
*/
package fx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrRateUnavailable is returned when no rate is known for a pair.
var ErrRateUnavailable = errors.New("fx rate unavailable")

// Provider returns conversion rates.
type Provider interface {
	Rate(ctx context.Context, from, to string, date time.Time) (decimal.Decimal, error)
}

// =============================================================================
// STATIC - fixed rate table
// =============================================================================

// Static serves rates from a table keyed "FROM/TO". Dates are ignored.
type Static struct {
	rates map[string]decimal.Decimal
}

func NewStatic(rates map[string]decimal.Decimal) *Static {
	s := &Static{rates: make(map[string]decimal.Decimal, len(rates))}
	for k, v := range rates {
		s.rates[strings.ToUpper(k)] = v
	}
	return s
}

// ReferenceRates is the fixed table development servers start with.
func ReferenceRates() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"EUR/USD": decimal.RequireFromString("1.1"),
		"GBP/USD": decimal.RequireFromString("1.27"),
		"USD/CAD": decimal.RequireFromString("1.36"),
	}
}

func (s *Static) Rate(_ context.Context, from, to string, _ time.Time) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if r, ok := s.rates[from+"/"+to]; ok {
		return r, nil
	}
	if r, ok := s.rates[to+"/"+from]; ok && !r.IsZero() {
		return decimal.NewFromInt(1).Div(r), nil
	}
	return decimal.Zero, fmt.Errorf("%s/%s: %w", from, to, ErrRateUnavailable)
}

// =============================================================================
// CACHE - explicit TTL, explicit invalidation
// =============================================================================

type cacheKey struct {
	from, to string
	day      string
}

type cacheEntry struct {
	rate    decimal.Decimal
	expires time.Time
}

// Cache memoizes a Provider per (from, to, day). Safe for concurrent use.
type Cache struct {
	next Provider
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

func NewCache(next Provider, ttl time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{next: next, ttl: ttl, now: time.Now, entries: make(map[cacheKey]cacheEntry)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Rate(ctx context.Context, from, to string, date time.Time) (decimal.Decimal, error) {
	k := cacheKey{from: strings.ToUpper(from), to: strings.ToUpper(to), day: date.UTC().Format("2006-01-02")}

	c.mu.Lock()
	e, ok := c.entries[k]
	c.mu.Unlock()
	if ok && c.now().Before(e.expires) {
		return e.rate, nil
	}

	rate, err := c.next.Rate(ctx, from, to, date)
	if err != nil {
		return decimal.Zero, err
	}

	c.mu.Lock()
	c.entries[k] = cacheEntry{rate: rate, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return rate, nil
}

// Invalidate drops every cached rate.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[cacheKey]cacheEntry)
}

// Len returns the number of cached entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
