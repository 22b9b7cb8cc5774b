// Package quote supplies priced market snapshots to the trading engine.
//
// Fetching is two-phase: a RawProvider returns the feed's quote as reported
// (its limit fields may be stale or empty), then the price-limit resolver
// attaches the authoritative band. Results are cached briefly — a quote is
// always treated as possibly stale and re-fetched after the TTL.
package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/papertrade/engine/internal/model"
	"github.com/papertrade/engine/internal/pricelimit"
)

// ErrUnavailable is returned when the feed has no data for a symbol, whether
// unknown or temporarily unreachable. Callers surface this as a declined
// order, not a fault.
var ErrUnavailable = errors.New("quote: unavailable")

// RawProvider fetches a quote straight from the feed, band fields untouched.
type RawProvider interface {
	Fetch(ctx context.Context, code string) (*model.Quote, error)
}

// Provider returns priced quotes with the limit band resolved. This is the
// interface the order engine consumes.
type Provider interface {
	Get(ctx context.Context, code string) (*model.Quote, error)
}

// Cache stores quotes for the TTL window. Implementations are best-effort:
// lookup misses and write failures are silent.
type Cache interface {
	Get(ctx context.Context, code string) *model.Quote
	Set(ctx context.Context, code string, q *model.Quote)
}

// Service implements Provider: read-through cache over the raw feed with the
// price-limit band attached on every fetch.
type Service struct {
	raw      RawProvider
	resolver *pricelimit.Resolver
	cache    Cache
	ttl      time.Duration
	now      func() time.Time
}

// NewService creates a quote service. cache may be nil to disable caching.
func NewService(raw RawProvider, resolver *pricelimit.Resolver, cache Cache, ttl time.Duration) *Service {
	return &Service{
		raw:      raw,
		resolver: resolver,
		cache:    cache,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns a priced quote for code, serving from cache while fresh.
func (s *Service) Get(ctx context.Context, code string) (*model.Quote, error) {
	code, err := pricelimit.NormalizeCode(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}

	now := s.now()
	if s.cache != nil {
		if q := s.cache.Get(ctx, code); q != nil && q.Fresh(now, s.ttl) {
			return q, nil
		}
	}

	q, err := s.raw.Fetch(ctx, code)
	if err != nil {
		return nil, err
	}

	s.resolver.Resolve(q, now)

	if s.cache != nil {
		s.cache.Set(ctx, code, q)
	}
	return q, nil
}
