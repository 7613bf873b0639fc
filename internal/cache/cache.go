// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is a cached value and the instant it stops being served
type Entry[T any] struct {
	Value     T
	ExpiresAt time.Time
}

func (e *Entry[T]) expiredAt(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Cache is a generic in-memory cache with TTL support. Expired entries are
// never returned and are swept in the background until Close is called.
type Cache[K comparable, V any] struct {
	mu       sync.RWMutex
	entries  map[K]*Entry[V]
	ttl      time.Duration
	now      func() time.Time
	loads    singleflight.Group
	stopChan chan struct{}
	once     sync.Once
}

// Option configures a [Cache]
type Option func(*cacheConfig)

type cacheConfig struct {
	now           func() time.Time
	sweepInterval time.Duration
}

// WithClock makes the cache read the current time from now
func WithClock(now func() time.Time) Option {
	return func(c *cacheConfig) { c.now = now }
}

// WithSweepInterval sets how often expired entries are removed. It defaults
// to the TTL; zero or negative disables sweeping.
func WithSweepInterval(d time.Duration) Option {
	return func(c *cacheConfig) { c.sweepInterval = d }
}

// New creates a new cache with the specified TTL
func New[K comparable, V any](ttl time.Duration, opts ...Option) *Cache[K, V] {
	cfg := cacheConfig{now: time.Now, sweepInterval: ttl}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Cache[K, V]{
		entries:  make(map[K]*Entry[V]),
		ttl:      ttl,
		now:      cfg.now,
		stopChan: make(chan struct{}),
	}
	if cfg.sweepInterval > 0 {
		go c.sweepLoop(cfg.sweepInterval)
	}
	return c
}

// Get retrieves a value from the cache
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || entry.expiredAt(c.now()) {
		var zero V
		return zero, false
	}
	return entry.Value, true
}

// Set stores a value in the cache with TTL
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &Entry[V]{
		Value:     value,
		ExpiresAt: c.now().Add(c.ttl),
	}
}

// GetOrLoad returns the cached value for key, calling load on a miss.
// Concurrent misses for one key share a single load. Errors are not cached.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, load func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	res, err, _ := c.loads.Do(fmt.Sprint(key), func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Delete removes a value from the cache
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// Clear removes all entries from the cache
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]*Entry[V])
}

// Size returns the number of stored entries, including expired ones not yet swept
func (c *Cache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Close stops the sweeper
func (c *Cache[K, V]) Close() {
	c.once.Do(func() {
		close(c.stopChan)
	})
}

func (c *Cache[K, V]) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stopChan:
			return
		}
	}
}

// Sweep removes expired entries now
func (c *Cache[K, V]) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if entry.expiredAt(now) {
			delete(c.entries, key)
		}
	}
}
