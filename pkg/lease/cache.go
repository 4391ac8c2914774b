package lease

import (
	"sync"
)

// Cache is the canonical source of truth for what time-bound material the
// client currently holds. It is the only state shared across foreground
// callers and the maintenance scheduler.
//
// Concurrency contract: records are immutable once stored; every update is a
// whole-record replace under the cache lock, so a reader observes either the
// old or the new record, never a mix.
type Cache struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{records: make(map[string]*Record)}
}

// Get returns the record for a key.
func (c *Cache) Get(key string) (*Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[key]
	return rec, ok
}

// Put stores a record, replacing any existing record for the same key. Last
// write wins; replacement never merges.
func (c *Cache) Put(rec *Record) {
	if rec == nil || rec.Key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[rec.Key] = rec
}

// Remove deletes the record for a key.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, key)
}

// Snapshot returns a point-in-time view of all records for a maintenance
// scan. The slice is owned by the caller; the records themselves are shared
// read-only values.
func (c *Cache) Snapshot() []*Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Record, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, rec)
	}
	return out
}

// Transition atomically moves a key from one state to another, replacing the
// stored record with an updated copy. It fails when the key is absent or not
// in the expected state — this compare-and-swap is the at-most-one-in-flight
// guard for maintenance operations.
func (c *Cache) Transition(key string, from, to State) (*Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[key]
	if !ok || rec.State != from {
		return nil, false
	}

	updated := *rec
	updated.State = to
	c.records[key] = &updated
	return &updated, true
}

// ReplaceIf atomically swaps the record stored under key for rec, provided
// the stored record is still in the expected state. It fails when the key
// was removed or replaced while the caller's maintenance attempt was in
// flight — an explicitly revoked lease must stay removed, so the caller
// drops its result instead of resurrecting the record. A changed key on rec
// retires the old entry in the same critical section.
func (c *Cache) ReplaceIf(key string, from State, rec *Record) bool {
	if rec == nil || rec.Key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.records[key]
	if !ok || cur.State != from {
		return false
	}
	if rec.Key != key {
		delete(c.records, key)
	}
	c.records[rec.Key] = rec
	return true
}

// Len returns the number of records held.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}
