package engine

import (
	"sync"
	"time"
)

// Cooldowns is a set of suppression keys with wall-clock expiry. Each
// key is removed by its own timer when the expiry elapses, so Has is
// O(1) and reflects the truth at call time rather than a lazy
// timestamp comparison.
type Cooldowns struct {
	mu     sync.Mutex
	gen    uint64
	timers map[string]cooldownEntry
}

type cooldownEntry struct {
	timer *time.Timer
	gen   uint64
}

// NewCooldowns returns an empty cooldown set.
func NewCooldowns() *Cooldowns {
	return &Cooldowns{timers: make(map[string]cooldownEntry)}
}

// Arm inserts key with the given expiry and reports true. It reports
// false, without rearming, when the key is already active. The check
// and the insert are atomic so two rapid callers cannot both arm the
// same key.
func (c *Cooldowns) Arm(key string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, active := c.timers[key]; active {
		return false
	}
	c.gen++
	gen := c.gen
	timer := time.AfterFunc(ttl, func() { c.expire(key, gen) })
	c.timers[key] = cooldownEntry{timer: timer, gen: gen}
	return true
}

// Has reports whether key is currently active.
func (c *Cooldowns) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, active := c.timers[key]
	return active
}

// Len reports the number of active keys.
func (c *Cooldowns) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// CancelAll stops every pending expiry and empties the set.
func (c *Cooldowns) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.timers {
		e.timer.Stop()
		delete(c.timers, key)
	}
}

// expire removes key once its timer fires. The generation check keeps
// a stale timer from evicting a key rearmed after CancelAll.
func (c *Cooldowns) expire(key string, gen uint64) {
	c.mu.Lock()
	if e, ok := c.timers[key]; ok && e.gen == gen {
		delete(c.timers, key)
	}
	c.mu.Unlock()
}
