package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryCooldown is a process-local Cooldown for single-replica setups.
type MemoryCooldown struct {
	mu    sync.Mutex
	ttl   time.Duration
	until map[string]time.Time
	now   func() time.Time
}

// NewMemoryCooldown returns an in-memory cooldown with the given window.
func NewMemoryCooldown(ttl time.Duration) *MemoryCooldown {
	return &MemoryCooldown{ttl: ttl, until: make(map[string]time.Time), now: time.Now}
}

// Acquire reports whether key was free and is now held for the window.
func (c *MemoryCooldown) Acquire(_ context.Context, key string) (bool, error) {
	if c.ttl <= 0 {
		return true, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if exp, ok := c.until[key]; ok && now.Before(exp) {
		return false, nil
	}
	c.until[key] = now.Add(c.ttl)

	// opportunistic sweep so idle keys do not accumulate
	if len(c.until) > 1024 {
		for k, exp := range c.until {
			if !now.Before(exp) {
				delete(c.until, k)
			}
		}
	}
	return true, nil
}
