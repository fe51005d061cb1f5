// Package scheduler drives fixed-cadence snapshot collection.
//
// Run calls a collector once per interval and hands each snapshot to a sink.
// Cadence is measured from the start of each cycle, so a slow collection
// shortens the following sleep instead of pushing every later cycle back;
// a cycle that overruns the interval starts the next one immediately.
//
// Key features:
//   - Cooperative stop via a polled predicate (see Stopper)
//   - Context cancellation interrupts the inter-cycle sleep
//   - Per-run error policy: report and continue, or report and stop
//   - Panic recovery in the collector and sink
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/xtxerr/aura/internal/errors"
	"github.com/xtxerr/aura/internal/logging"
	"github.com/xtxerr/aura/internal/storage/types"
	"github.com/xtxerr/aura/internal/validation"
)

var log = logging.Component("scheduler")

// =============================================================================
// Types
// =============================================================================

// CollectFunc produces one snapshot. It receives the run context so that a
// collector can bound its own work; the scheduler never interrupts it.
type CollectFunc func(ctx context.Context) (types.Snapshot, error)

// SinkFunc consumes one snapshot. A returned error goes through the error
// policy exactly like a collection error.
type SinkFunc func(types.Snapshot) error

// ErrorPolicy decides what a failed cycle does to the run.
type ErrorPolicy struct {
	// ContinueOnError keeps the loop running after a failed cycle, leaving a
	// gap in the series. When false the first failure ends the run.
	ContinueOnError bool

	// OnError receives every cycle failure, in both modes. When nil,
	// failures are logged at warn level.
	OnError func(error)
}

func (p ErrorPolicy) report(err error) {
	if p.OnError != nil {
		p.OnError(err)
		return
	}
	log.Warn("sample cycle failed", "error", err)
}

// Options configures one Run.
type Options struct {
	// Interval is the target cadence. Must be > 0.
	Interval time.Duration

	// Collect and Sink are required.
	Collect CollectFunc
	Sink    SinkFunc

	// ShouldStop is polled at each cycle boundary and before each sleep.
	// Nil means run until ctx is done or a failure ends the run.
	ShouldStop func() bool

	Policy ErrorPolicy

	// Clock measures cycles and sleeps between them. Nil means real time.
	Clock Clock

	// Stats, when set, is updated as the run progresses.
	Stats *Stats
}

// Stats counts what a run has done. Safe to read while the run is active.
type Stats struct {
	Cycles   atomic.Int64
	Emitted  atomic.Int64
	Errors   atomic.Int64
	Overruns atomic.Int64 // cycles that took at least Interval
}

// IntervalFromSeconds converts a seconds value into an Interval.
func IntervalFromSeconds(seconds float64) (time.Duration, error) {
	return validation.Interval(seconds)
}

func (o *Options) validate() error {
	if o.Interval <= 0 {
		return errors.NewInvalidArgument("interval", "must be > 0")
	}
	if o.Collect == nil {
		return errors.NewInvalidArgument("collect", "must not be nil")
	}
	if o.Sink == nil {
		return errors.NewInvalidArgument("sink", "must not be nil")
	}
	return nil
}

// =============================================================================
// Run
// =============================================================================

// Run collects until ShouldStop reports true, ctx is done, or a failure ends
// the run under the error policy. It returns the number of snapshots the sink
// accepted.
//
// The returned error is nil after a cooperative stop, ctx.Err() after
// cancellation, and the cycle error when the policy stops on failure.
// Invalid options fail before the first cycle.
func Run(ctx context.Context, opts Options) (int, error) {
	if err := opts.validate(); err != nil {
		return 0, err
	}

	clock := opts.Clock
	if clock == nil {
		clock = RealClock()
	}
	stats := opts.Stats
	if stats == nil {
		stats = &Stats{}
	}
	stop := func() bool {
		if ctx.Err() != nil {
			return true
		}
		return opts.ShouldStop != nil && opts.ShouldStop()
	}

	runLog := logging.WithContext(ctx, log)
	runLog.Debug("sampler started", "interval", opts.Interval, "continue_on_error", opts.Policy.ContinueOnError)

	emitted := 0
	for !stop() {
		cycleStart := clock.Now()
		stats.Cycles.Add(1)

		if err := runCycle(ctx, opts); err != nil {
			stats.Errors.Add(1)
			opts.Policy.report(err)
			if !opts.Policy.ContinueOnError {
				runLog.Debug("sampler stopped on error", "emitted", emitted, "error", err)
				return emitted, err
			}
		} else {
			emitted++
			stats.Emitted.Add(1)
		}

		remaining := opts.Interval - clock.Now().Sub(cycleStart)
		if remaining <= 0 {
			stats.Overruns.Add(1)
			continue
		}
		if stop() {
			break
		}
		if err := clock.Sleep(ctx, remaining); err != nil {
			break
		}
	}

	runLog.Debug("sampler stopped", "emitted", emitted)

	if err := ctx.Err(); err != nil {
		return emitted, err
	}
	return emitted, nil
}

// runCycle executes collect and sink with panic recovery.
func runCycle(ctx context.Context, opts Options) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in sample cycle", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	snap, err := opts.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	if err := opts.Sink(snap); err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	return nil
}
