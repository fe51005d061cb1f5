package scheduler

import "sync/atomic"

// Stopper is a cross-goroutine stop flag. Pass Stopper.Stopped as
// Options.ShouldStop and call Stop from any goroutine; the run ends at its
// next poll point. A zero Stopper is ready to use.
type Stopper struct {
	stopped atomic.Bool
}

// Stop requests the run to end. Safe to call more than once.
func (s *Stopper) Stop() {
	s.stopped.Store(true)
}

// Stopped reports whether Stop has been called.
func (s *Stopper) Stopped() bool {
	return s.stopped.Load()
}

// After returns a predicate that becomes true once n has been counted via
// the returned tick function. Used to stop after a fixed number of
// emissions.
func After(n int) (shouldStop func() bool, tick func()) {
	var count atomic.Int64
	limit := int64(n)
	return func() bool { return count.Load() >= limit },
		func() { count.Add(1) }
}
