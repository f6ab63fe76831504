// Package cache implements the orchestrator-level response cache shared
// across sessions. Entries are keyed by (session id, data version,
// normalized input), carry a TTL, and live in a bounded LRU so the oldest
// entries fall out under capacity pressure.
package cache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hupe1980/coachmesh/core"
	"github.com/hupe1980/coachmesh/internal/util"
)

// Options holds configuration overrides for the response cache.
type Options struct {
	// Capacity bounds the number of cached responses.
	Capacity int
	// TTL is how long an entry stays valid.
	TTL time.Duration
}

// Entry is one cached turn outcome.
type Entry struct {
	FinalText string
	Widgets   []core.Widget
}

type cached struct {
	entry     Entry
	expiresAt time.Time
}

// ResponseCache short-circuits the mesh scheduler for repeated inputs
// against unchanged data.
type ResponseCache struct {
	lru *lru.Cache[string, *cached]
	ttl time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Stats are cumulative hit/miss counters.
type Stats struct {
	Hits   uint64
	Misses uint64
}

// New constructs a ResponseCache (default: 256 entries, 5 minute TTL).
func New(optFns ...func(o *Options)) (*ResponseCache, error) {
	opts := Options{
		Capacity: 256,
		TTL:      5 * time.Minute,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	l, err := lru.New[string, *cached](opts.Capacity)
	if err != nil {
		return nil, err
	}

	return &ResponseCache{lru: l, ttl: opts.TTL}, nil
}

// Get returns the cached response for (sessionID, dataVersion, input), if
// any. Expired entries are removed and reported as misses. The input is
// normalized internally.
func (c *ResponseCache) Get(sessionID string, dataVersion uint64, input string) (Entry, bool) {
	key := util.ResponseKey(sessionID, dataVersion, util.NormalizeInput(input))

	v, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return Entry{}, false
	}

	if time.Now().After(v.expiresAt) {
		c.lru.Remove(key)
		c.misses.Add(1)
		return Entry{}, false
	}

	c.hits.Add(1)
	return v.entry, true
}

// Put stores a turn outcome. A later data-version bump changes the key, so
// stale responses can never be returned after an underlying data change.
func (c *ResponseCache) Put(sessionID string, dataVersion uint64, input string, entry Entry) {
	key := util.ResponseKey(sessionID, dataVersion, util.NormalizeInput(input))
	c.lru.Add(key, &cached{entry: entry, expiresAt: time.Now().Add(c.ttl)})
}

// Len reports the number of live entries (including not-yet-swept expired
// ones).
func (c *ResponseCache) Len() int { return c.lru.Len() }

// Stats returns cumulative counters.
func (c *ResponseCache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
