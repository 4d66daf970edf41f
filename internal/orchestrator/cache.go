package orchestrator

import (
	"sync"
	"time"

	"github.com/xkilldash9x/pagepilot/api/schemas"
)

type cacheEntry struct {
	reply   schemas.ModelReply
	expires time.Time
}

// responseCache holds recent model replies keyed by (task, url, title). It
// evicts by insertion order, not recency: a burst of fresh pages should push
// out the oldest strategy first, and a hit must not pin a stale entry.
type responseCache struct {
	mu      sync.Mutex
	cap     int
	ttl     time.Duration
	entries map[string]cacheEntry
	order   []string

	now func() time.Time
}

func newResponseCache(capacity int, ttl time.Duration) *responseCache {
	return &responseCache{
		cap:     capacity,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns a live entry verbatim. Expired entries are dropped on access.
func (c *responseCache) Get(key string) (schemas.ModelReply, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return schemas.ModelReply{}, false
	}
	if !c.now().Before(entry.expires) {
		c.removeLocked(key)
		return schemas.ModelReply{}, false
	}
	return entry.reply, true
}

// Put inserts or refreshes an entry. A refreshed key keeps its original
// insertion position; only genuinely new keys can trigger eviction.
func (c *responseCache) Put(key string, reply schemas.ModelReply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := cacheEntry{reply: reply, expires: c.now().Add(c.ttl)}
	if _, exists := c.entries[key]; exists {
		c.entries[key] = entry
		return
	}
	c.entries[key] = entry
	c.order = append(c.order, key)
	for len(c.order) > c.cap {
		c.removeLocked(c.order[0])
	}
}

func (c *responseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *responseCache) removeLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
