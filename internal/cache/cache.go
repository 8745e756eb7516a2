// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

// Package cache provides the read-path TTL cache for API query results.
// Entries expire on their own TTL and the whole cache is invalidated
// when a refresh run commits, so readers never see a mix of old and new
// dataset versions.
package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/govsense/govsense/internal/metrics"
	"github.com/govsense/govsense/internal/models"
)

// Entry represents a cached item with expiration
type Entry struct {
	Data      interface{}
	ExpiresAt time.Time
}

// Cache provides a thread-safe in-memory cache with TTL support.
//
// Thread Safety:
//   - Safe for concurrent access from multiple goroutines
//   - Uses sync.RWMutex for read/write locking
//   - Background cleanup goroutine runs until Stop is called
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	stats   Stats
	stop    chan struct{}
	stopped sync.Once
}

// Stats tracks cache performance metrics
type Stats struct {
	mu            sync.RWMutex
	Hits          int64
	Misses        int64
	Evictions     int64
	Invalidations int64
	TotalKeys     int64
	LastCleanup   time.Time
}

// New creates a cache with the given default TTL and starts a
// background goroutine that removes expired entries every 5 minutes.
//
// Example:
//
//	c := cache.New(5 * time.Minute)
//	defer c.Stop()
//	stats, err := cache.GetOrCompute(c, "stats:summary", 0, loadSummary)
func New(ttl time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		stats: Stats{
			LastCleanup: time.Now(),
		},
		stop: make(chan struct{}),
	}

	go c.cleanupLoop()

	return c
}

// Stop terminates the background cleanup goroutine. Safe to call more
// than once.
func (c *Cache) Stop() {
	c.stopped.Do(func() { close(c.stop) })
}

// Get retrieves a value by key. Expired entries are removed on access
// and counted as misses.
//
// Returns:
//   - interface{}: cached data if found and not expired
//   - bool: true if the entry exists and is valid
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		c.recordMiss()
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		c.recordMiss()
		c.recordEviction()
		return nil, false
	}

	c.recordHit()
	return entry.Data, true
}

// Set stores a value with the cache's default TTL.
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value in the cache with a custom TTL
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = Entry{
		Data:      value,
		ExpiresAt: time.Now().Add(ttl),
	}
	total := int64(len(c.entries))
	c.mu.Unlock()

	c.stats.mu.Lock()
	c.stats.TotalKeys = total
	c.stats.mu.Unlock()
	metrics.CacheEntries.Set(float64(total))
}

// GetOrCompute returns the cached value for key, calling compute and
// caching its result on a miss. A ttl of 0 uses the cache's default.
// Compute errors are returned without poisoning the cache. Concurrent
// misses on the same key may each run compute; the query load here is
// cheap local reads, so the stampede window is not worth a lock per key.
func GetOrCompute[T any](c *Cache, key string, ttl time.Duration, compute func() (T, error)) (T, bool, error) {
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, true, nil
		}
	}

	var zero T
	v, err := compute()
	if err != nil {
		return zero, false, err
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.SetWithTTL(key, v, ttl)
	return v, false, nil
}

// Delete removes a specific cache entry by key. No-op for keys that do
// not exist.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	c.recordEviction()
}

// InvalidateAll removes every entry in a single atomic operation. Called
// after a refresh run commits so readers see only post-refresh state.
//
// Performance: O(1) map replacement, not per-entry deletion.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	evictions := int64(len(c.entries))
	c.entries = make(map[string]Entry)
	c.mu.Unlock()

	c.stats.mu.Lock()
	c.stats.Evictions += evictions
	c.stats.Invalidations++
	c.stats.TotalKeys = 0
	c.stats.mu.Unlock()

	metrics.CacheInvalidations.Inc()
	metrics.CacheEntries.Set(0)
}

// OnRefreshCompleted implements the pipeline's refresh listener: any
// committed run, even a degraded one, replaces table contents, so the
// whole cache goes.
func (c *Cache) OnRefreshCompleted(models.RefreshCompleted) {
	c.InvalidateAll()
}

// GetStats returns a copy of the current cache statistics.
func (c *Cache) GetStats() Stats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()

	return Stats{
		Hits:          c.stats.Hits,
		Misses:        c.stats.Misses,
		Evictions:     c.stats.Evictions,
		Invalidations: c.stats.Invalidations,
		TotalKeys:     c.stats.TotalKeys,
		LastCleanup:   c.stats.LastCleanup,
	}
}

// HitRate returns the cache hit rate as a percentage
func (c *Cache) HitRate() float64 {
	stats := c.GetStats()
	total := stats.Hits + stats.Misses
	if total == 0 {
		return 0.0
	}
	return float64(stats.Hits) / float64(total) * 100.0
}

// cleanupLoop periodically removes expired entries
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

// cleanup removes all expired entries
func (c *Cache) cleanup() {
	now := time.Now()
	c.mu.Lock()
	evictions := int64(0)
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			evictions++
		}
	}
	total := int64(len(c.entries))
	c.mu.Unlock()

	c.stats.mu.Lock()
	c.stats.Evictions += evictions
	c.stats.TotalKeys = total
	c.stats.LastCleanup = now
	c.stats.mu.Unlock()
	metrics.CacheEntries.Set(float64(total))
}

// recordHit increments the hit counter
func (c *Cache) recordHit() {
	c.stats.mu.Lock()
	c.stats.Hits++
	c.stats.mu.Unlock()
	metrics.CacheHits.Inc()
}

// recordMiss increments the miss counter
func (c *Cache) recordMiss() {
	c.stats.mu.Lock()
	c.stats.Misses++
	c.stats.mu.Unlock()
	metrics.CacheMisses.Inc()
}

// recordEviction increments the eviction counter
func (c *Cache) recordEviction() {
	c.stats.mu.Lock()
	c.stats.Evictions++
	c.stats.mu.Unlock()
}

// GenerateKey creates a cache key from the query name and parameters
func GenerateKey(query string, params interface{}) string {
	data, err := json.Marshal(params)
	if err != nil {
		// Fallback to simple string key
		return fmt.Sprintf("%s:%v", query, params)
	}

	hash := sha256.Sum256(data)
	return fmt.Sprintf("%s:%x", query, hash[:16])
}
