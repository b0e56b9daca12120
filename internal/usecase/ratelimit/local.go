package ratelimit

import (
	"context"
	"sync"
	"time"
)

// LocalCounter is the in-process fallback for the shared counter
// store. Counts are only accurate within a single process — degraded
// mode, not a substitute for the distributed counter.
type LocalCounter struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	now     func() time.Time
}

type localEntry struct {
	count    int64
	deadline time.Time
}

// NewLocalCounter creates an empty local counter.
func NewLocalCounter() *LocalCounter {
	return &LocalCounter{
		entries: make(map[string]*localEntry),
		now:     time.Now,
	}
}

// Incr increments the key's counter, starting a fresh window when the
// key is absent or its window has elapsed.
func (c *LocalCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || now.After(e.deadline) {
		e = &localEntry{deadline: now.Add(window)}
		c.entries[key] = e
	}
	e.count++
	return e.count, nil
}

// Sweep removes expired entries. Called periodically by the owner to
// bound memory; correctness does not depend on it.
func (c *LocalCounter) Sweep() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if now.After(e.deadline) {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of live entries.
func (c *LocalCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
