package suggest

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

// cacheEntry holds one cached response with its insertion time.
type cacheEntry struct {
	key      string
	response *Response
	storedAt time.Time
}

// responseCache is an LRU cache with TTL expiry. A TTL of zero disables
// caching entirely. Expired entries may still be served through getStale
// when the caller opts into stale-on-error.
type responseCache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	order      []string
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func newResponseCache(ttl time.Duration, maxEntries int) *responseCache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &responseCache{
		entries:    make(map[string]*cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// cacheKey derives a stable key from everything that affects the response.
func cacheKey(req *Request) string {
	var b strings.Builder
	b.WriteString(req.Query)
	b.WriteByte('|')
	if c := req.Context; c != nil {
		b.WriteString(c.CurrentPath)
		b.WriteByte('|')
		b.WriteString(strings.Join(c.SelectedItems, ","))
		b.WriteByte('|')
		if c.GitStatus != nil {
			b.WriteString(c.GitStatus.Branch)
			fmt.Fprintf(&b, "|%t|%d|%d|%d", c.GitStatus.Dirty,
				len(c.GitStatus.Modified), len(c.GitStatus.Staged), len(c.GitStatus.Untracked))
		}
		b.WriteByte('|')
		if c.Preferences != nil {
			b.WriteString(strings.Join(c.Preferences.PreferredTools, ","))
		}
		b.WriteByte('|')
		if c.AppState != nil {
			b.WriteString(c.AppState.CurrentCategory)
		}
	}
	fmt.Fprintf(&b, "|%d|%g|%t", req.MaxSuggestions, req.MinScore, req.IncludeReasoning)

	h := fnv.New64a()
	h.Write([]byte(b.String()))
	return fmt.Sprintf("%016x", h.Sum64())
}

// get returns a fresh cached response and its age, or nil on miss or
// expiry.
func (c *responseCache) get(key string) (*Response, time.Duration) {
	if c.ttl <= 0 {
		return nil, 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, 0
	}
	age := c.now().Sub(entry.storedAt)
	if age > c.ttl {
		return nil, 0
	}
	c.moveToBackLocked(key)
	return entry.response, age
}

// getStale returns a cached response and its age regardless of expiry.
// Used to serve a last-known-good answer when fresh scoring fails.
func (c *responseCache) getStale(key string) (*Response, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, 0
	}
	return entry.response, c.now().Sub(entry.storedAt)
}

// put stores a response, evicting the least recently used entry when full.
func (c *responseCache) put(key string, resp *Response) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.entries[key] = &cacheEntry{key: key, response: resp, storedAt: c.now()}
		c.moveToBackLocked(key)
		return
	}

	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		c.removeEntryLocked(c.order[0])
	}

	c.entries[key] = &cacheEntry{key: key, response: resp, storedAt: c.now()}
	c.order = append(c.order, key)
}

// clear drops every entry and returns how many were dropped.
func (c *responseCache) clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]*cacheEntry)
	c.order = c.order[:0]
	return n
}

// len returns the number of entries, expired ones included.
func (c *responseCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *responseCache) removeEntryLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *responseCache) moveToBackLocked(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			c.order = append(c.order, key)
			break
		}
	}
}
