// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache provides a small TTL cache with an injected clock and
// explicit invalidation. It has no background goroutines; expired entries
// are dropped when they are next read or when space is needed.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// entry wraps a value with the time it was stored
type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Cache is a concurrent key/value cache.
//
// Usage:
//
//	c := cache.New[string, *Plan](
//	    cache.WithExpiry[string, *Plan](30*time.Second),
//	    cache.WithLoadFunc(loadPlan),
//	)
//	plan, err := c.GetOrLoad(ctx, runID)
//	...
//	c.Clear() // state changed, drop everything
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]entry[V]

	// generation is bumped by Delete and Clear so a load that started
	// before an invalidation does not store its now-stale result.
	generation uint64

	// Optional load function for cache misses
	loadFunc func(ctx context.Context, key K) (V, error)
	loads    singleflight.Group

	// Max size (0 = unlimited)
	maxSize int

	// TTL expiry (0 = no expiry)
	expiry time.Duration

	now func() time.Time
}

// Option configures a Cache
type Option[K comparable, V any] func(*Cache[K, V])

// WithMaxSize sets the maximum number of entries. When capacity is reached,
// the oldest entry is evicted.
func WithMaxSize[K comparable, V any](maxSize int) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.maxSize = maxSize
	}
}

// WithExpiry sets the TTL for cache entries. Entries older than this
// duration are not returned by Get.
func WithExpiry[K comparable, V any](expiry time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.expiry = expiry
	}
}

// WithClock overrides the time source.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.now = now
	}
}

// WithLoadFunc sets a function to call on cache misses.
// Concurrent misses for the same key share one call.
func WithLoadFunc[K comparable, V any](loadFunc func(ctx context.Context, key K) (V, error)) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.loadFunc = loadFunc
	}
}

// New creates a new Cache with the given options.
func New[K comparable, V any](opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		entries: make(map[K]entry[V]),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache[K, V]) expired(e entry[V], now time.Time) bool {
	return c.expiry > 0 && now.Sub(e.storedAt) >= c.expiry
}

// Get retrieves a value from the cache.
// Returns the value and true if found and not expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.expired(e, c.now()) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetOrLoad retrieves a value from the cache, loading it if not present.
// Load errors are returned and not cached.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K) (V, error) {
	if val, ok := c.Get(key); ok {
		return val, nil
	}
	if c.loadFunc == nil {
		var zero V
		return zero, fmt.Errorf("cache miss for %v and no load function", key)
	}

	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	v, err, _ := c.loads.Do(fmt.Sprint(key), func() (any, error) {
		val, err := c.loadFunc(ctx, key)
		if err != nil {
			return nil, err
		}
		c.setIfGeneration(key, val, gen)
		return val, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Set adds or updates a value in the cache.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(key, value)
}

func (c *Cache[K, V]) setIfGeneration(key K, value V, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return
	}
	c.store(key, value)
}

// store must be called with mu held.
func (c *Cache[K, V]) store(key K, value V) {
	now := c.now()
	if _, exists := c.entries[key]; !exists && c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evict(now)
	}
	c.entries[key] = entry[V]{value: value, storedAt: now}
}

// evict drops expired entries, or the oldest one if none expired.
func (c *Cache[K, V]) evict(now time.Time) {
	var (
		oldestKey  K
		oldestTime time.Time
		first      = true
		dropped    bool
	)
	for k, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, k)
			dropped = true
			continue
		}
		if first || e.storedAt.Before(oldestTime) {
			oldestKey, oldestTime, first = k, e.storedAt, false
		}
	}
	if !dropped && !first {
		delete(c.entries, oldestKey)
	}
}

// Delete removes a key from the cache.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.generation++
}

// Size returns the number of stored entries, including expired ones not
// yet dropped.
func (c *Cache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes all entries from the cache.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	c.generation++
}
