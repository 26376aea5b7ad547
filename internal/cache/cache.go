// Package cache holds the last known value of every NetworkTables key the
// server has asserted since the current connection was opened.
package cache

import (
	"sync"

	"github.com/ntws/ntws/internal/types"
)

// Entry is one key/value pair of a Snapshot.
type Entry struct {
	Key   string
	Value types.Value
}

// Cache maps keys to their last known values. Safe for concurrent use; the
// client writes it from a single goroutine and readers may be anywhere.
// There is no per-key removal: entries leave only through Clear.
type Cache struct {
	mu    sync.RWMutex
	items map[string]types.Value
}

func New() *Cache {
	return &Cache{items: make(map[string]types.Value)}
}

// Get returns the cached value for key.
func (c *Cache) Get(key string) (types.Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

// GetOr returns the cached value for key, or def if the key is absent.
func (c *Cache) GetOr(key string, def types.Value) types.Value {
	if v, ok := c.Get(key); ok {
		return v
	}
	return def
}

func (c *Cache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Set overwrites the value for key.
func (c *Cache) Set(key string, v types.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = v
}

// Keys returns every present key exactly once, in no particular order.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.items))
	for k := range c.items {
		out = append(out, k)
	}
	return out
}

// Snapshot returns a copy of the cache contents taken at call time.
func (c *Cache) Snapshot() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.items))
	for k, v := range c.items {
		out = append(out, Entry{Key: k, Value: v})
	}
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear drops every entry and returns how many there were.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.items)
	c.items = make(map[string]types.Value)
	return n
}
