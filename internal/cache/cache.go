// Package cache provides a small TTL cache for memoizing expensive probes.
//
// Entries expire lazily: nothing sweeps the map in the background, an
// expired entry is dropped by the read that finds it. The cache does not
// coordinate concurrent misses on the same key; callers that need that wrap
// the producer in their own single-flight guard.
package cache

import (
	"sort"
	"sync"
	"time"
)

// NoExpiry is passed as ttl to keep an entry until it is deleted
const NoExpiry time.Duration = -1

type entry struct {
	value     any
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Cache is a mutex-guarded TTL map
type Cache struct {
	mu    sync.Mutex
	items map[string]entry
	now   func() time.Time
}

// New creates an empty cache
func New() *Cache {
	return &Cache{
		items: make(map[string]entry),
		now:   time.Now,
	}
}

// Get returns the value for key, or false when missing or expired
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if e.expired(c.now()) {
		delete(c.items, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key. A ttl of zero bypasses the cache entirely
// (nothing is stored and any previous entry is left untouched); a negative
// ttl stores the value without expiry.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl == 0 {
		return
	}

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	c.items[key] = e
	c.mu.Unlock()
}

// Delete removes key
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Clear removes every entry
func (c *Cache) Clear() {
	c.mu.Lock()
	c.items = make(map[string]entry)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// EntryInfo describes one cache entry for diagnostics
type EntryInfo struct {
	Key       string
	Remaining time.Duration
	NoExpiry  bool
}

// Entries returns live entries sorted by key
func (c *Cache) Entries() []EntryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	infos := make([]EntryInfo, 0, len(c.items))
	for key, e := range c.items {
		if e.expired(now) {
			continue
		}
		info := EntryInfo{Key: key, NoExpiry: e.expiresAt.IsZero()}
		if !info.NoExpiry {
			info.Remaining = e.expiresAt.Sub(now)
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}
