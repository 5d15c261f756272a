package backend

import (
	"sync"
	"time"
)

// Clock supplies write timestamps to a store
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface
type ClockFunc func() time.Time

// Now calls f
func (f ClockFunc) Now() time.Time { return f() }

// MonotonicClock returns strictly increasing UTC timestamps at microsecond
// resolution, even when the wall clock stalls or steps backwards.
type MonotonicClock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewMonotonicClock creates a clock backed by time.Now
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{now: time.Now}
}

// NewMonotonicClockFrom creates a clock backed by source, used in tests
func NewMonotonicClockFrom(source func() time.Time) *MonotonicClock {
	return &MonotonicClock{now: source}
}

// Now returns the next timestamp
func (c *MonotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}

// Observe advances the clock so later timestamps are after t
func (c *MonotonicClock) Observe(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.last) {
		c.last = t.UTC().Truncate(time.Microsecond)
	}
}
