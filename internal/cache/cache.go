// Package cache holds extraction results keyed by document fingerprint so unchanged
// documents skip recognition.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/hyperjump/docscan/internal/models"
)

// ResultCache is a capacity-bounded map from fingerprint to extraction result.
// Eviction follows insertion order: reads do not refresh an entry, so a frequently
// read entry is still evicted once it is the oldest.
type ResultCache struct {
	capacity int
	entries  map[string]*list.Element
	order    *list.List
	mu       sync.RWMutex
	now      func() time.Time
}

// Entry is one cached result and the time it was stored.
type Entry struct {
	Fingerprint string
	Result      *models.ExtractionResult
	StoredAt    time.Time
}

// NewResultCache creates a cache holding at most capacity entries. A capacity below 1 is treated as 1.
func NewResultCache(capacity int) *ResultCache {
	if capacity < 1 {
		capacity = 1
	}
	return &ResultCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the cached result for fingerprint if present.
func (c *ResultCache) Get(fingerprint string) (*models.ExtractionResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if elem, ok := c.entries[fingerprint]; ok {
		return elem.Value.(*Entry).Result, true
	}
	return nil, false
}

// Set stores result under fingerprint. Replacing an existing key keeps its original
// position in the eviction order; a new key at capacity evicts the earliest-inserted entry.
func (c *ResultCache) Set(fingerprint string, result *models.ExtractionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[fingerprint]; ok {
		entry := elem.Value.(*Entry)
		entry.Result = result
		entry.StoredAt = c.now()
		return
	}

	for c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*Entry).Fingerprint)
	}

	entry := &Entry{Fingerprint: fingerprint, Result: result, StoredAt: c.now()}
	c.entries[fingerprint] = c.order.PushBack(entry)
}

// Clear drops every entry.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Len returns the number of cached entries.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len()
}

// Capacity returns the maximum number of entries.
func (c *ResultCache) Capacity() int {
	return c.capacity
}

// Entries returns a copy of the cached entries, oldest first.
func (c *ResultCache) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, c.order.Len())
	for e := c.order.Front(); e != nil; e = e.Next() {
		out = append(out, *e.Value.(*Entry))
	}
	return out
}
