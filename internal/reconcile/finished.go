package reconcile

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// finishedCache remembers recently finished sessions so the phone screen's
// discard guard can tell "already finished" from "about to be thrown away".
// Entries expire on access; the cache is bounded, with the oldest entries
// evicted first when full.
type finishedCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[uuid.UUID]time.Time // session id -> expiry
}

func newFinishedCache(ttl time.Duration, max int) *finishedCache {
	return &finishedCache{
		ttl:     ttl,
		max:     max,
		entries: make(map[uuid.UUID]time.Time),
	}
}

func (c *finishedCache) sweep(now time.Time) {
	for id, expiry := range c.entries {
		if now.After(expiry) {
			delete(c.entries, id)
		}
	}
	for len(c.entries) >= c.max {
		var oldest uuid.UUID
		var oldestExpiry time.Time
		for id, expiry := range c.entries {
			if oldestExpiry.IsZero() || expiry.Before(oldestExpiry) {
				oldest, oldestExpiry = id, expiry
			}
		}
		delete(c.entries, oldest)
	}
}

// Mark records a finished session.
func (c *finishedCache) Mark(sessionID uuid.UUID) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweep(now)
	c.entries[sessionID] = now.Add(c.ttl)
}

// IsFinished reports whether the session finished within the TTL.
func (c *finishedCache) IsFinished(sessionID uuid.UUID) bool {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	expiry, ok := c.entries[sessionID]
	if !ok {
		return false
	}
	if now.After(expiry) {
		delete(c.entries, sessionID)
		return false
	}
	return true
}
