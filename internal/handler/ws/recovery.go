package ws

import (
	"sync"
	"time"
)

// continuity remembers recently closed sessions so a fast reconnect can be
// treated as a continuation of the same logical client. Entries expire
// after the window; a consumed token is gone either way.
type continuity struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]continuityEntry
}

type continuityEntry struct {
	lastID   int64
	closedAt time.Time
}

func newContinuity(window time.Duration) *continuity {
	if window <= 0 {
		window = 2 * time.Minute
	}
	return &continuity{
		window:  window,
		entries: make(map[string]continuityEntry),
	}
}

// remember records a closed session's delivery progress under its token.
func (c *continuity) remember(token string, lastID int64) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune(now)
	c.entries[token] = continuityEntry{lastID: lastID, closedAt: now}
}

// resume consumes a token presented by a reconnecting client and returns
// the highest id the dropped session had delivered.
func (c *continuity) resume(token string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune(time.Now())

	entry, ok := c.entries[token]
	if !ok {
		return 0, false
	}
	delete(c.entries, token)
	return entry.lastID, true
}

// prune assumes c.mu is held.
func (c *continuity) prune(now time.Time) {
	for token, entry := range c.entries {
		if now.Sub(entry.closedAt) > c.window {
			delete(c.entries, token)
		}
	}
}
