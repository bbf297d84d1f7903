package oci

import (
	"sync"
	"time"
)

const (
	defaultAuthHeaderCacheTTL     = time.Minute
	defaultAuthHeaderCacheMaxSize = 100
)

// authHeaderCache remembers the Authorization header sent to each registry
// host so range reads of one layer do not repeat the token exchange. An empty
// value means the host was reached anonymously.
//
// The cache is small, so eviction scans for the least recently used host.
type authHeaderCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	tick    uint64
	entries map[string]*authHeader
}

type authHeader struct {
	value   string
	expires time.Time
	used    uint64
}

// newAuthHeaderCache returns nil when ttl disables caching.
func newAuthHeaderCache(ttl time.Duration) *authHeaderCache {
	if ttl <= 0 {
		return nil
	}
	return &authHeaderCache{
		ttl:     ttl,
		maxSize: defaultAuthHeaderCacheMaxSize,
		entries: make(map[string]*authHeader),
	}
}

func (c *authHeaderCache) get(host string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.entries[host]
	switch {
	case !ok:
		return "", false
	case time.Now().After(h.expires):
		delete(c.entries, host)
		return "", false
	}
	c.tick++
	h.used = c.tick
	return h.value, true
}

func (c *authHeaderCache) set(host, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tick++
	if _, ok := c.entries[host]; !ok {
		for len(c.entries) >= c.maxSize {
			c.evictLocked()
		}
	}
	c.entries[host] = &authHeader{value: value, expires: time.Now().Add(c.ttl), used: c.tick}
}

func (c *authHeaderCache) evictLocked() {
	var (
		victim string
		oldest uint64
		found  bool
	)
	for host, h := range c.entries {
		if !found || h.used < oldest {
			victim, oldest, found = host, h.used, true
		}
	}
	delete(c.entries, victim)
}

func (c *authHeaderCache) invalidate(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, host)
}
