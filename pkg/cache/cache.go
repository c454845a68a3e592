// Package cache holds record sets keyed by hostname, bounded by capacity.
//
// The cache evicts the least recently used entry when an insert would exceed
// its capacity. It has no notion of time: callers compare RecordSet.Timestamp
// against their own clock and call Invalidate when an entry is too old.
// A cache built with capacity zero is disabled and every operation is a no-op.
package cache

import (
	"strings"

	"github.com/cuemby/remotebackend/pkg/metrics"
	"github.com/cuemby/remotebackend/pkg/records"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is safe for concurrent use
type Cache struct {
	entries *lru.Cache[string, *records.RecordSet]
	metrics metrics.Recorder
}

// New creates a cache holding at most capacity entries.
// A capacity of zero or less yields a disabled cache.
func New(capacity int, rec metrics.Recorder) (*Cache, error) {
	if rec == nil {
		rec = metrics.Nop{}
	}
	c := &Cache{metrics: rec}
	if capacity <= 0 {
		return c, nil
	}

	entries, err := lru.New[string, *records.RecordSet](capacity)
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

// Enabled reports whether the cache stores anything
func (c *Cache) Enabled() bool {
	return c.entries != nil
}

// Get returns the set stored for hostname and marks it recently used
func (c *Cache) Get(hostname string) (*records.RecordSet, bool) {
	if c.entries == nil {
		return nil, false
	}
	return c.entries.Get(key(hostname))
}

// Put stores set under hostname, evicting the least recently used entry if full
func (c *Cache) Put(hostname string, set *records.RecordSet) {
	if c.entries == nil || set == nil {
		return
	}
	if evicted := c.entries.Add(key(hostname), set); evicted {
		c.metrics.Inc("cache.evictions")
	}
}

// Invalidate drops the entry for hostname, if any
func (c *Cache) Invalidate(hostname string) {
	if c.entries == nil {
		return
	}
	c.entries.Remove(key(hostname))
}

// Len returns the number of resident entries
func (c *Cache) Len() int {
	if c.entries == nil {
		return 0
	}
	return c.entries.Len()
}

// Purge drops every entry
func (c *Cache) Purge() {
	if c.entries == nil {
		return
	}
	c.entries.Purge()
}

func key(hostname string) string {
	return strings.ToLower(hostname)
}
