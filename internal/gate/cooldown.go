package gate

import (
	"sync"
	"time"
)

// Cooldowns tracks when each command may fire again. Acceptance charges the
// cooldown immediately, before the command runs.
type Cooldowns struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func NewCooldowns() *Cooldowns {
	return &Cooldowns{until: map[string]time.Time{}}
}

// Allow accepts name unless it fired less than cd ago. cd <= 0 always allows.
func (c *Cooldowns) Allow(name string, cd time.Duration, now time.Time) bool {
	if cd <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if until, ok := c.until[name]; ok && now.Before(until) {
		return false
	}
	c.pruneLocked(now)
	c.until[name] = now.Add(cd)
	return true
}

// Remaining is the time left before name may fire again.
func (c *Cooldowns) Remaining(name string, now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until, ok := c.until[name]; ok && now.Before(until) {
		return until.Sub(now)
	}
	return 0
}

func (c *Cooldowns) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.until)
}

func (c *Cooldowns) pruneLocked(now time.Time) {
	for k, until := range c.until {
		if !now.Before(until) {
			delete(c.until, k)
		}
	}
}
