// Package cache provides a generic single-slot cache with
// stale-while-revalidate semantics: an expired value is served from the
// previous generation instead of disappearing, because for catalog data a
// briefly outdated answer beats an empty one.
package cache

import (
	"sync"
	"time"
)

// Status describes the freshness of a value returned by Get.
type Status string

const (
	// StatusFresh means the value is within its TTL.
	StatusFresh Status = "fresh"

	// StatusStale means the current value expired and the previous generation
	// is being served.
	StatusStale Status = "stale"
)

// Option defines a functional option for configuring a Cache.
type Option[T any] func(*Cache[T])

// WithClock overrides the time source. Intended for tests.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(c *Cache[T]) {
		c.now = now
	}
}

// Cache is a single-slot stale-while-revalidate cache.
// It is safe for concurrent use by multiple goroutines.
type Cache[T any] struct {
	mu        sync.Mutex
	value     T
	stale     T
	hasValue  bool
	hasStale  bool
	ttl       time.Duration
	expiresAt time.Time
	now       func() time.Time
}

// New creates an empty cache.
func New[T any](opts ...Option[T]) *Cache[T] {
	c := &Cache[T]{
		now: time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c
}

// Set installs a new value with the given TTL. The current value, if any,
// rotates into the stale slot, so exactly one generation of staleness is
// retained. A non-positive TTL means the value never expires.
func (c *Cache[T]) Set(value T, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasValue {
		c.stale = c.value
		c.hasStale = true
	}

	c.value = value
	c.hasValue = true
	c.ttl = ttl
	if ttl > 0 {
		c.expiresAt = c.now().Add(ttl)
	} else {
		c.expiresAt = time.Time{}
	}
}

// Get returns the cached value and its freshness.
//
// Before expiry the current value is returned fresh. After expiry the
// previous generation is returned stale when one exists; otherwise, when the
// TTL is non-positive the cache is treated as "always fresh" and still serves
// the last value. The boolean is false only when nothing can be served.
func (c *Cache[T]) Get() (T, Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	if !c.hasValue {
		return zero, StatusFresh, false
	}

	// Non-positive TTL: caching is effectively disabled, degrade to always
	// serving the last value rather than nothing.
	if c.ttl <= 0 {
		return c.value, StatusFresh, true
	}

	if c.now().Before(c.expiresAt) {
		return c.value, StatusFresh, true
	}

	// Expired: serve the previous generation when one exists, otherwise the
	// expired value itself is all we have and is served marked stale.
	if c.hasStale {
		return c.stale, StatusStale, true
	}
	return c.value, StatusStale, true
}

// Invalidate clears both generations.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	c.value = zero
	c.stale = zero
	c.hasValue = false
	c.hasStale = false
	c.ttl = 0
	c.expiresAt = time.Time{}
}
