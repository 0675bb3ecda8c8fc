/**
 * @description
 * In-memory TTL cache for upstream call results. There is no eviction
 * goroutine: expiry is checked lazily by callers holding an Entry, and stale
 * entries are swept on demand via RemoveExpired (wired to a scheduled job).
 *
 * @notes
 * - Entries are immutable once created; a Put for an existing key replaces
 *   the entry wholesale, so readers never observe a partially updated value.
 * - Reads do not mutate state (no LRU bookkeeping). Entries are small and
 *   short-lived, minutes not hours, so simplicity wins over optimality.
 */

package gateway

import (
	"sync"
	"time"
)

// Entry is one cached value together with its creation timestamp.
type Entry struct {
	Value     any
	CreatedAt time.Time
}

// Expired reports whether the entry is older than ttl at the given instant.
func (e Entry) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(e.CreatedAt) > ttl
}

// Cache is a thread-safe key to value store with per-entry timestamps.
// Keys are deterministic strings built from every call parameter, so distinct
// logical requests never collide.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

// NewCache creates an empty cache using the wall clock.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Get returns the entry stored under key, expired or not. Callers decide
// whether a stale entry is still acceptable.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	return entry, ok
}

// Put stores value under key, replacing any previous entry.
func (c *Cache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = Entry{Value: value, CreatedAt: c.now()}
}

// RemoveExpired deletes every entry older than ttl and returns how many were
// removed.
func (c *Cache) RemoveExpired(ttl time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if entry.Expired(ttl, now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]Entry)
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
