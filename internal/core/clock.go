package core

import (
	"sync"
	"time"
)

// Clock supplies the timestamps written to the catalog
type Clock interface {
	Now() time.Time
}

// MonotonicClock is a wall clock that never runs backwards.
// If the system time steps back, Now keeps returning the last value it
// handed out until the wall clock catches up.
type MonotonicClock struct {
	mu   sync.Mutex
	last time.Time
	wall func() time.Time
}

// NewClock creates a clock backed by time.Now
func NewClock() *MonotonicClock {
	return &MonotonicClock{wall: time.Now}
}

// NewClockWithSource creates a clock backed by an arbitrary time source.
// Useful in tests that need to control the wall clock.
func NewClockWithSource(wall func() time.Time) *MonotonicClock {
	return &MonotonicClock{wall: wall}
}

// Now returns max(wall clock, last returned value), truncated to the
// millisecond precision the catalog stores.
func (c *MonotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.wall().Truncate(time.Millisecond)
	if now.Before(c.last) {
		return c.last
	}
	c.last = now
	return now
}

// Observe raises the clock floor to t.
// Called with the newest timestamp found in storage after a restart.
func (c *MonotonicClock) Observe(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.last) {
		c.last = t
	}
}
