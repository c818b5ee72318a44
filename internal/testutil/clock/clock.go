// Package clock provides a manually advanced clock for tests. It imports
// nothing from this module so any package's internal tests can use it.
package clock

import (
	"sync"
	"time"
)

// Clock is a manually advanced wall clock for tests.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// New creates a clock fixed at start.
func New(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time. Pass it as a method value to SetClock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
