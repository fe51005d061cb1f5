package testing

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Fake Clock
// =============================================================================

// FakeClock is a manually driven clock.
//
// Seconds satisfies types.Clock and Now/Sleep satisfy scheduler.Clock, so one
// FakeClock can drive a store and a scheduler in the same test. Sleep never
// blocks: it advances the clock and records the requested duration.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration

	// OnSleep, when set, runs after every Sleep with the new time.
	OnSleep func(now time.Time)
}

// NewFakeClock returns a clock reading the given Unix seconds.
func NewFakeClock(seconds float64) *FakeClock {
	return &FakeClock{now: fromSeconds(seconds)}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Seconds returns the current fake time in Unix seconds.
func (c *FakeClock) Seconds() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(c.now.UnixNano()) / float64(time.Second)
}

// Set moves the clock to the given Unix seconds.
func (c *FakeClock) Set(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = fromSeconds(seconds)
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleep advances the clock by d unless ctx is already done.
func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	now, hook := c.now, c.OnSleep
	c.mu.Unlock()

	if hook != nil {
		hook(now)
	}
	return nil
}

// Sleeps returns every duration passed to Sleep, in order.
func (c *FakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

func fromSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*float64(time.Second)))
}
