package session

import (
	"sync"
	"time"
)

// Cooldown admits one action per window; attempts inside the window are
// refused rather than queued.
type Cooldown struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	until  time.Time
}

func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{window: window, now: time.Now}
}

func (c *Cooldown) Try() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Before(c.until) {
		return false
	}

	c.until = now.Add(c.window)
	return true
}

func (c *Cooldown) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.until)
}
