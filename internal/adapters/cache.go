package adapters

import (
	"sync"
	"time"

	"github.com/Rajchodisetti/futures-feed/internal/market"
	"github.com/Rajchodisetti/futures-feed/internal/observ"
)

// quoteCache holds the last quote per instrument for a short TTL so that a
// refresh loop polling faster than a provider updates does not spend budget.
type quoteCache struct {
	mu      sync.RWMutex
	tier    string
	ttl     time.Duration
	entries map[string]cacheEntry
	maxSize int
	now     func() time.Time
}

type cacheEntry struct {
	quote     market.Quote
	fetchedAt time.Time
}

func newQuoteCache(tier string, ttl time.Duration) *quoteCache {
	return &quoteCache{
		tier:    tier,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		maxSize: 2000,
		now:     time.Now,
	}
}

func (c *quoteCache) get(id string) (market.Quote, bool) {
	if c == nil || c.ttl <= 0 {
		return market.Quote{}, false
	}
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.fetchedAt) > c.ttl {
		observ.IncCounter("quote_cache_total", map[string]string{"tier": c.tier, "result": "miss"})
		return market.Quote{}, false
	}
	observ.IncCounter("quote_cache_total", map[string]string{"tier": c.tier, "result": "hit"})
	return e.quote, true
}

func (c *quoteCache) put(id string, q market.Quote) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if len(c.entries) >= c.maxSize {
		for k, e := range c.entries {
			if now.Sub(e.fetchedAt) > c.ttl {
				delete(c.entries, k)
			}
		}
	}
	if len(c.entries) >= c.maxSize {
		return
	}
	c.entries[id] = cacheEntry{quote: q, fetchedAt: now}
}
