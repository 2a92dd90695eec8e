package gecko

import (
	"sync"
	"time"
)

type TokenInfo struct {
	ImageURL string
	Holders  int
}

type cacheEntry struct {
	info    TokenInfo
	fetched time.Time
}

// TokenInfoCache remembers per-address token info. Its lifetime is the caller's:
// the daemon keeps one for as long as it runs, a one-shot run uses a fresh one.
type TokenInfoCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewTokenInfoCache keeps entries for ttl; ttl <= 0 keeps them forever.
func NewTokenInfoCache(ttl time.Duration) *TokenInfoCache {
	return &TokenInfoCache{entries: map[string]cacheEntry{}, ttl: ttl, now: time.Now}
}

func (c *TokenInfoCache) Get(address string) (TokenInfo, bool) {
	if c == nil {
		return TokenInfo{}, false
	}
	c.mu.RLock()
	e, ok := c.entries[address]
	c.mu.RUnlock()
	if !ok {
		return TokenInfo{}, false
	}
	if c.ttl > 0 && c.now().Sub(e.fetched) > c.ttl {
		c.mu.Lock()
		delete(c.entries, address)
		c.mu.Unlock()
		return TokenInfo{}, false
	}
	return e.info, true
}

func (c *TokenInfoCache) Put(address string, info TokenInfo) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries[address] = cacheEntry{info: info, fetched: c.now()}
	c.mu.Unlock()
}

func (c *TokenInfoCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
