package engagement

import (
	"sync"
	"time"
)

// DefaultCacheTTL is how long an analysis result stays fresh.
const DefaultCacheTTL = 30 * time.Second

// Analysis is the parsed result of one LLM engagement analysis.
type Analysis struct {
	ShouldEngage bool    `json:"shouldEngage"`
	Reason       string  `json:"reason"`
	Relevance    float64 `json:"relevance"`
}

type cacheEntry struct {
	analysis Analysis
	at       time.Time
}

// cache holds analysis results keyed by conversation snapshot. Entries
// are idempotent snapshots of the same decision, so a same-key race
// overwriting with an equally fresh entry is acceptable.
type cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func newCache(ttl time.Duration, now func() time.Time) *cache {
	return &cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     now,
	}
}

// get returns a cached analysis if one exists and is younger than the
// TTL. Stale entries are evicted on the way out.
func (c *cache) get(key string) (Analysis, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return Analysis{}, false
	}
	if c.now().Sub(entry.at) >= c.ttl {
		delete(c.entries, key)
		return Analysis{}, false
	}
	return entry.analysis, true
}

func (c *cache) put(key string, a Analysis) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{analysis: a, at: c.now()}
}
