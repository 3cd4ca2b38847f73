// Package cache implements the bounded TTL cache of spec §4.2: capacity N,
// per-entry TTL T, least-recently-inserted-or-touched eviction, get-on-hit
// recency refresh. It wraps hashicorp/golang-lru/v2's expirable LRU, which
// implements exactly this contract natively.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a generic bounded, TTL-expiring associative store. The zero value
// is not usable; construct with New.
type Cache[K comparable, V any] struct {
	inner *lru.LRU[K, V]
	mu    sync.Mutex // expirable.LRU is internally locked; this lock only
	// serialises compound operations (GetOrCompute's get-then-set).
}

// New creates a Cache with the given capacity and TTL.
func New[K comparable, V any](capacity int, ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{inner: lru.NewLRU[K, V](capacity, nil, ttl)}
}

// Get returns the value and true on a live hit; it returns the zero value and
// false when missing or expired. A hit refreshes recency.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.inner.Get(key)
}

// Set inserts or updates key, resetting its TTL and recency.
func (c *Cache[K, V]) Set(key K, value V) {
	c.inner.Add(key, value)
}

// Remove deletes key if present.
func (c *Cache[K, V]) Remove(key K) {
	c.inner.Remove(key)
}

// Len returns the number of live (non-expired) entries.
func (c *Cache[K, V]) Len() int {
	return c.inner.Len()
}

// GetOrCompute returns the cached value if present, otherwise computes it via
// fn, stores it and returns it. fn errors are not cached.
func (c *Cache[K, V]) GetOrCompute(key K, fn func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.Get(key); ok { // re-check under lock
		return v, nil
	}
	v, err := fn()
	if err != nil {
		var zero V
		return zero, err
	}
	c.Set(key, v)
	return v, nil
}
