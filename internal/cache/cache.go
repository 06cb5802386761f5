// Package cache is the in-process result cache sitting in front of metric resolution.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Metrics receives cache events. Implementations must be safe for concurrent use.
type Metrics interface {
	CacheHit(key string)
	CacheMiss(key string)
	CacheStale(key string)
}

// Options tune eviction and degraded-value handling.
type Options[T any] struct {
	// StaleRetention keeps an expired entry around for stale-on-error serving.
	// Entries older than expiresAt+StaleRetention are evicted on the next read. Zero keeps them forever.
	StaleRetention time.Duration
	// DegradedTTL replaces the caller's ttl for values IsDegraded reports as degraded.
	DegradedTTL time.Duration
	IsDegraded  func(T) bool
	Metrics     Metrics
}

// Result is a cached or freshly computed value.
type Result[T any] struct {
	Value     T
	Hit       bool
	Stale     bool
	ExpiresAt time.Time
}

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// Cache memoizes values per key with a TTL. Concurrent misses for the same key
// collapse into a single compute call.
type Cache[T any] struct {
	opts  Options[T]
	now   func() time.Time
	group singleflight.Group

	mu       sync.Mutex
	entries  map[string]entry[T]
	lastGood map[string]T
}

// New creates a Cache.
func New[T any](opts Options[T]) *Cache[T] {
	return &Cache[T]{
		opts:     opts,
		now:      time.Now,
		entries:  make(map[string]entry[T]),
		lastGood: make(map[string]T),
	}
}

// lookup returns the entry for key, evicting it when it is past the stale window. c.mu must be held.
func (c *Cache[T]) lookup(key string) (entry[T], bool) {
	e, ok := c.entries[key]
	if !ok {
		return e, false
	}
	if c.opts.StaleRetention > 0 && c.now().After(e.expiresAt.Add(c.opts.StaleRetention)) {
		delete(c.entries, key)
		return entry[T]{}, false
	}
	return e, true
}

// GetOrCompute returns the fresh entry for key or computes, stores and returns a new one.
// When compute fails and an earlier entry (possibly expired) exists, that entry is
// returned with Stale set instead of the error.
func (c *Cache[T]) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) (T, error)) (Result[T], error) {
	if v, ok := c.fresh(key); ok {
		c.hit(key)
		return v, nil
	}
	c.miss(key)

	ch := c.group.DoChan(key, func() (any, error) {
		// A caller that lost the race may find the entry already refreshed.
		if v, ok := c.fresh(key); ok {
			return v, nil
		}
		// The computation outlives any single caller's cancellation so the
		// collapsed waiters still get a value.
		v, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return c.staleOr(key, err)
		}
		return c.store(key, v, ttl), nil
	})

	select {
	case <-ctx.Done():
		var zero Result[T]
		return zero, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			var zero Result[T]
			return zero, r.Err
		}
		return r.Val.(Result[T]), nil
	}
}

func (c *Cache[T]) fresh(key string) (Result[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup(key)
	if !ok || !c.now().Before(e.expiresAt) {
		return Result[T]{}, false
	}
	return Result[T]{Value: e.value, Hit: true, ExpiresAt: e.expiresAt}, true
}

func (c *Cache[T]) store(key string, v T, ttl time.Duration) Result[T] {
	degraded := c.opts.IsDegraded != nil && c.opts.IsDegraded(v)
	if degraded && c.opts.DegradedTTL > 0 && c.opts.DegradedTTL < ttl {
		ttl = c.opts.DegradedTTL
	}
	exp := c.now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[T]{value: v, expiresAt: exp}
	if !degraded {
		c.lastGood[key] = v
	}
	return Result[T]{Value: v, ExpiresAt: exp}
}

func (c *Cache[T]) staleOr(key string, err error) (Result[T], error) {
	c.mu.Lock()
	e, ok := c.lookup(key)
	c.mu.Unlock()
	if !ok {
		return Result[T]{}, err
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.CacheStale(key)
	}
	return Result[T]{Value: e.value, Stale: true, ExpiresAt: e.expiresAt}, nil
}

// LastGood returns the most recent non-degraded value stored for key, regardless of expiry.
func (c *Cache[T]) LastGood(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lastGood[key]
	return v, ok
}

// Invalidate expires key immediately. The last good value is kept.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.expiresAt = c.now()
		c.entries[key] = e
	}
}

func (c *Cache[T]) hit(key string) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.CacheHit(key)
	}
}

func (c *Cache[T]) miss(key string) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.CacheMiss(key)
	}
}
