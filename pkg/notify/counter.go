package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore is the atomic increment-with-expiry primitive behind rate
// limiting. The first increment of a key starts its window; the key
// expires once the window passes.
type CounterStore interface {
	IncrementWithExpiry(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounters implements CounterStore on redis INCR plus a
// first-write-only EXPIRE, pipelined so concurrent dispatchers agree on
// the count.
type RedisCounters struct {
	client *redis.Client
}

var _ CounterStore = (*RedisCounters)(nil)

func NewRedisCounters(client *redis.Client) *RedisCounters {
	return &RedisCounters{client: client}
}

func (c *RedisCounters) IncrementWithExpiry(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment counter %q: %w", key, err)
	}
	return incr.Val(), nil
}

// MemoryCounters is the in-process CounterStore used in tests and
// single-node deployments without redis.
type MemoryCounters struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter

	Now func() time.Time
}

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

var _ CounterStore = (*MemoryCounters)(nil)

func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{
		counters: make(map[string]*memoryCounter),
		Now:      time.Now,
	}
}

func (c *MemoryCounters) IncrementWithExpiry(ctx context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.Now()
	entry, ok := c.counters[key]
	if !ok || !entry.expiresAt.After(now) {
		entry = &memoryCounter{expiresAt: now.Add(window)}
		c.counters[key] = entry
	}
	entry.count++
	return entry.count, nil
}
