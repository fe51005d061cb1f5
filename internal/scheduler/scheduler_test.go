package scheduler

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xtxerr/aura/internal/errors"
	"github.com/xtxerr/aura/internal/storage/types"
	testutil "github.com/xtxerr/aura/internal/testing"
)

// collector returns snapshots stamped with the fake clock. Calls listed in
// failOn return an error instead.
func collector(t *testing.T, clock *testutil.FakeClock, failOn ...int) (CollectFunc, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	fail := make(map[int]bool, len(failOn))
	for _, n := range failOn {
		fail[n] = true
	}
	return func(context.Context) (types.Snapshot, error) {
		n := int(calls.Add(1))
		if fail[n] {
			return types.Snapshot{}, fmt.Errorf("probe failure on call %d", n)
		}
		return types.NewSnapshot(clock.Seconds(), 10, 20)
	}, &calls
}

func TestRunContinueOnErrorScenario(t *testing.T) {
	clock := testutil.NewFakeClock(0)
	collect, _ := collector(t, clock, 1)

	var received []types.Snapshot
	var reported []error
	shouldStop, tick := After(2)

	emitted, err := Run(context.Background(), Options{
		Interval: time.Second,
		Collect:  collect,
		Sink: func(s types.Snapshot) error {
			received = append(received, s)
			tick()
			return nil
		},
		ShouldStop: shouldStop,
		Policy: ErrorPolicy{
			ContinueOnError: true,
			OnError:         func(err error) { reported = append(reported, err) },
		},
		Clock: clock,
	})

	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if emitted != 2 {
		t.Errorf("emitted = %d, want 2", emitted)
	}
	if len(received) != 2 {
		t.Errorf("sink received %d snapshots, want 2", len(received))
	}
	if len(reported) != 1 {
		t.Errorf("error sink received %d errors, want 1", len(reported))
	}
}

func TestRunStopsOnFirstErrorWithoutContinue(t *testing.T) {
	clock := testutil.NewFakeClock(0)
	collect, calls := collector(t, clock, 3)

	var reported int
	sinkCalls := 0
	emitted, err := Run(context.Background(), Options{
		Interval: time.Second,
		Collect:  collect,
		Sink:     func(types.Snapshot) error { sinkCalls++; return nil },
		Policy:   ErrorPolicy{OnError: func(error) { reported++ }},
		Clock:    clock,
	})

	if err == nil {
		t.Fatal("Run() error = nil, want collection failure")
	}
	if emitted != 2 || sinkCalls != 2 {
		t.Errorf("emitted = %d, sink calls = %d, want 2/2", emitted, sinkCalls)
	}
	if calls.Load() != 3 {
		t.Errorf("collect calls = %d, want 3", calls.Load())
	}
	if reported != 1 {
		t.Errorf("OnError calls = %d, want 1", reported)
	}
}

func TestRunSinkErrorUsesPolicy(t *testing.T) {
	clock := testutil.NewFakeClock(0)
	collect, _ := collector(t, clock)

	sinkErr := fmt.Errorf("disk full")
	emitted, err := Run(context.Background(), Options{
		Interval: time.Second,
		Collect:  collect,
		Sink:     func(types.Snapshot) error { return sinkErr },
		Policy:   ErrorPolicy{OnError: func(error) {}},
		Clock:    clock,
	})

	if !errors.Is(err, sinkErr) {
		t.Errorf("Run() error = %v, want sink error", err)
	}
	if emitted != 0 {
		t.Errorf("emitted = %d, want 0", emitted)
	}
}

func TestRunRecoversPanics(t *testing.T) {
	clock := testutil.NewFakeClock(0)
	var stop Stopper
	var reported []error

	calls := 0
	emitted, err := Run(context.Background(), Options{
		Interval: time.Second,
		Collect: func(context.Context) (types.Snapshot, error) {
			calls++
			if calls == 1 {
				panic("driver exploded")
			}
			return types.NewSnapshot(clock.Seconds(), 1, 1)
		},
		Sink:       func(types.Snapshot) error { stop.Stop(); return nil },
		ShouldStop: stop.Stopped,
		Policy: ErrorPolicy{
			ContinueOnError: true,
			OnError:         func(err error) { reported = append(reported, err) },
		},
		Clock: clock,
	})

	if err != nil || emitted != 1 {
		t.Fatalf("Run() = %d, %v, want 1, nil", emitted, err)
	}
	if len(reported) != 1 {
		t.Fatalf("reported %d errors, want 1", len(reported))
	}
}

func TestRunDriftCorrection(t *testing.T) {
	tests := []struct {
		name       string
		work       time.Duration
		wantSleeps []time.Duration
		overruns   int64
	}{
		{"fast cycles sleep the remainder", 300 * time.Millisecond,
			[]time.Duration{700 * time.Millisecond, 700 * time.Millisecond}, 0},
		{"exact interval never sleeps", time.Second, nil, 3},
		{"overrun starts next cycle immediately", 1500 * time.Millisecond, nil, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := testutil.NewFakeClock(0)
			shouldStop, tick := After(3)
			stats := &Stats{}

			emitted, err := Run(context.Background(), Options{
				Interval: time.Second,
				Collect: func(context.Context) (types.Snapshot, error) {
					clock.Advance(tt.work)
					return types.NewSnapshot(clock.Seconds(), 1, 1)
				},
				Sink:       func(types.Snapshot) error { tick(); return nil },
				ShouldStop: shouldStop,
				Clock:      clock,
				Stats:      stats,
			})
			if err != nil || emitted != 3 {
				t.Fatalf("Run() = %d, %v", emitted, err)
			}

			sleeps := clock.Sleeps()
			if len(sleeps) != len(tt.wantSleeps) {
				t.Fatalf("sleeps = %v, want %v", sleeps, tt.wantSleeps)
			}
			for i := range sleeps {
				if sleeps[i] != tt.wantSleeps[i] {
					t.Errorf("sleep[%d] = %v, want %v", i, sleeps[i], tt.wantSleeps[i])
				}
			}
			if got := stats.Overruns.Load(); got != tt.overruns {
				t.Errorf("overruns = %d, want %d", got, tt.overruns)
			}
			if stats.Cycles.Load() != 3 || stats.Emitted.Load() != 3 {
				t.Errorf("stats cycles/emitted = %d/%d", stats.Cycles.Load(), stats.Emitted.Load())
			}
		})
	}
}

func TestRunCadenceIsAnchoredToCycleStart(t *testing.T) {
	clock := testutil.NewFakeClock(1000)
	shouldStop, tick := After(4)
	var stamps []float64

	_, err := Run(context.Background(), Options{
		Interval: time.Second,
		Collect: func(context.Context) (types.Snapshot, error) {
			s, err := types.NewSnapshot(clock.Seconds(), 1, 1)
			clock.Advance(250 * time.Millisecond)
			return s, err
		},
		Sink:       func(s types.Snapshot) error { stamps = append(stamps, s.Timestamp()); tick(); return nil },
		ShouldStop: shouldStop,
		Clock:      clock,
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []float64{1000, 1001, 1002, 1003}
	if fmt.Sprint(stamps) != fmt.Sprint(want) {
		t.Errorf("cycle starts = %v, want %v", stamps, want)
	}
}

func TestRunStopIsCheckedBeforeSleep(t *testing.T) {
	clock := testutil.NewFakeClock(0)
	var stop Stopper
	collect, _ := collector(t, clock)

	emitted, err := Run(context.Background(), Options{
		Interval:   time.Hour,
		Collect:    collect,
		Sink:       func(types.Snapshot) error { stop.Stop(); return nil },
		ShouldStop: stop.Stopped,
		Clock:      clock,
	})
	if err != nil || emitted != 1 {
		t.Fatalf("Run() = %d, %v", emitted, err)
	}
	if len(clock.Sleeps()) != 0 {
		t.Errorf("slept %v after stop was requested", clock.Sleeps())
	}
}

func TestRunAlreadyStopped(t *testing.T) {
	collect, calls := collector(t, testutil.NewFakeClock(0))
	emitted, err := Run(context.Background(), Options{
		Interval:   time.Second,
		Collect:    collect,
		Sink:       func(types.Snapshot) error { return nil },
		ShouldStop: func() bool { return true },
	})
	if err != nil || emitted != 0 || calls.Load() != 0 {
		t.Errorf("Run() = %d, %v, calls %d", emitted, err, calls.Load())
	}
}

func TestRunRejectsInvalidOptions(t *testing.T) {
	collect, calls := collector(t, testutil.NewFakeClock(0))
	sink := func(types.Snapshot) error { return nil }

	tests := []struct {
		name string
		opts Options
	}{
		{"zero interval", Options{Interval: 0, Collect: collect, Sink: sink}},
		{"negative interval", Options{Interval: -time.Second, Collect: collect, Sink: sink}},
		{"nil collect", Options{Interval: time.Second, Sink: sink}},
		{"nil sink", Options{Interval: time.Second, Collect: collect}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(context.Background(), tt.opts)
			if !errors.IsInvalidArgument(err) {
				t.Errorf("Run() error = %v, want invalid argument", err)
			}
		})
	}
	if calls.Load() != 0 {
		t.Errorf("collect called %d times on invalid options", calls.Load())
	}
}

func TestRunContextCancellationInterruptsSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var emitted int
	var runErr error
	err := testutil.WithTimeout(5*time.Second, func() error {
		emitted, runErr = Run(ctx, Options{
			Interval: time.Hour,
			Collect: func(context.Context) (types.Snapshot, error) {
				return types.NewSnapshot(types.WallClock(), 1, 1)
			},
			Sink: func(types.Snapshot) error {
				time.AfterFunc(20*time.Millisecond, cancel)
				return nil
			},
		})
		return nil
	})
	if err != nil {
		t.Fatalf("Run() did not return after cancel: %v", err)
	}
	if emitted != 1 {
		t.Errorf("emitted = %d, want 1", emitted)
	}
	if !errors.Is(runErr, context.Canceled) || !errors.IsInterrupted(runErr) {
		t.Errorf("Run() error = %v, want context.Canceled", runErr)
	}
}

func TestRealClockSleep(t *testing.T) {
	c := RealClock()
	start := c.Now()
	if err := c.Sleep(context.Background(), 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if c.Now().Sub(start) < 10*time.Millisecond {
		t.Error("Sleep() returned early")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() on cancelled ctx = %v", err)
	}
}

func TestIntervalFromSeconds(t *testing.T) {
	tests := []struct {
		seconds float64
		want    time.Duration
		wantErr bool
	}{
		{1, time.Second, false},
		{0.5, 500 * time.Millisecond, false},
		{0, 0, true},
		{-1, 0, true},
		{math.NaN(), 0, true},
		{math.Inf(1), 0, true},
	}

	for _, tt := range tests {
		got, err := IntervalFromSeconds(tt.seconds)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("IntervalFromSeconds(%v) = %v, %v", tt.seconds, got, err)
		}
		if err != nil && !errors.IsInvalidArgument(err) {
			t.Errorf("IntervalFromSeconds(%v) error %v is not invalid argument", tt.seconds, err)
		}
	}
}

func TestStopper(t *testing.T) {
	var s Stopper
	if s.Stopped() {
		t.Fatal("zero Stopper reports stopped")
	}
	s.Stop()
	s.Stop()
	if !s.Stopped() {
		t.Error("Stop() not observed")
	}

	shouldStop, tick := After(2)
	tick()
	if shouldStop() {
		t.Error("After(2) stopped after one tick")
	}
	tick()
	if !shouldStop() {
		t.Error("After(2) not stopped after two ticks")
	}
}

func TestStopperEndsRunFromAnotherGoroutine(t *testing.T) {
	var (
		stopper Stopper
		sunk    atomic.Int64
	)
	gt := testutil.NewGoroutineTest(t)
	gt.Go(func() error {
		_, err := Run(context.Background(), Options{
			Interval: time.Millisecond,
			Collect: func(context.Context) (types.Snapshot, error) {
				return types.NewSnapshot(types.WallClock(), 1, 1)
			},
			Sink: func(types.Snapshot) error {
				sunk.Add(1)
				return nil
			},
			ShouldStop: stopper.Stopped,
		})
		return err
	})

	if err := testutil.Eventually(2*time.Second, time.Millisecond, func() bool { return sunk.Load() >= 3 }); err != nil {
		t.Fatal(err)
	}
	stopper.Stop()
	gt.Wait()
}
