package quote

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/papertrade/engine/internal/model"
)

// RedisCache stores quotes in Redis with a TTL, shared across instances.
// All operations are best-effort; a Redis outage degrades to direct feed
// fetches rather than failing quote lookups.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a Redis-backed quote cache.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func quoteKey(code string) string { return "quote:" + code }

func (c *RedisCache) Get(ctx context.Context, code string) *model.Quote {
	data, err := c.rdb.Get(ctx, quoteKey(code)).Bytes()
	if err != nil {
		return nil
	}
	var q model.Quote
	if json.Unmarshal(data, &q) != nil {
		return nil
	}
	return &q
}

func (c *RedisCache) Set(ctx context.Context, code string, q *model.Quote) {
	if data, err := json.Marshal(q); err == nil {
		c.rdb.Set(ctx, quoteKey(code), data, c.ttl)
	}
}

// MemoryCache is an in-process quote cache for single-instance deployments
// and tests. Entries are overwritten in place; freshness is judged by the
// quote's own AsOf timestamp at read time.
type MemoryCache struct {
	mu     sync.RWMutex
	quotes map[string]*model.Quote
}

// NewMemoryCache creates an in-memory quote cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{quotes: make(map[string]*model.Quote)}
}

func (c *MemoryCache) Get(_ context.Context, code string) *model.Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q, ok := c.quotes[code]
	if !ok {
		return nil
	}
	cp := *q
	return &cp
}

func (c *MemoryCache) Set(_ context.Context, code string, q *model.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := *q
	c.quotes[code] = &cp
}
