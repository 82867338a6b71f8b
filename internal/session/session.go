// ABOUTME: Process-local, time-boxed cache of the unlocked signing key.
// ABOUTME: At most one session per process; expiry is checked lazily on read.

package session

import (
	"sync"
	"time"
)

// Cache holds at most one unlocked key with an absolute expiry instant. It is
// never persisted and never shared across processes. Safe for concurrent use.
type Cache struct {
	// Now is the clock used for expiry checks. Defaults to time.Now; tests
	// inject a fake to pin TTL boundaries.
	Now func() time.Time

	mu      sync.Mutex
	key     [32]byte
	expires time.Time
	active  bool
}

// New returns an empty cache using the real clock.
func New() *Cache {
	return &Cache{Now: time.Now}
}

// Get returns the cached key if a session exists and has not expired. An
// expired session is treated as absent and cleared.
func (c *Cache) Get() ([32]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return [32]byte{}, false
	}
	if !c.Now().Before(c.expires) {
		c.clearLocked()
		return [32]byte{}, false
	}
	return c.key, true
}

// Set stores key with expiry now+ttl, replacing any prior session.
func (c *Cache) Set(key [32]byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.key = key
	c.expires = c.Now().Add(ttl)
	c.active = true
}

// Clear drops the session and zeroizes the cached key.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *Cache) clearLocked() {
	c.key = [32]byte{}
	c.expires = time.Time{}
	c.active = false
}
