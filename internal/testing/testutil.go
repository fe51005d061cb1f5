// Package testing provides test utilities for aura packages.
//
// Import it under an alias to avoid clashing with the standard library:
//
//	import testutil "github.com/xtxerr/aura/internal/testing"
//
// It offers the error channel pattern for goroutines (t.Fatal must not be
// called off the test goroutine), a fake clock usable by both the store and
// the scheduler, and builders for snapshot series.
package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Error Channel Pattern
// =============================================================================

// GoroutineTest provides safe testing utilities for goroutines.
//
// Using t.Fatal or t.FailNow in a goroutine causes the test to hang because
// these functions call runtime.Goexit() which only exits the current goroutine,
// not the test goroutine. This type provides the error channel pattern as a
// safe alternative.
//
// Example usage:
//
//	func TestConcurrentReaders(t *testing.T) {
//	    gt := testutil.NewGoroutineTest(t)
//	    defer gt.Wait()
//
//	    gt.Go(func() error {
//	        got, err := st.Latest(1)
//	        if err != nil {
//	            return fmt.Errorf("latest: %w", err)
//	        }
//	        if len(got) != 1 {
//	            return fmt.Errorf("got %d snapshots, want 1", len(got))
//	        }
//	        return nil
//	    })
//	}
type GoroutineTest struct {
	t      *testing.T
	wg     sync.WaitGroup
	errors chan error
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGoroutineTest creates a new GoroutineTest helper.
func NewGoroutineTest(t *testing.T) *GoroutineTest {
	ctx, cancel := context.WithCancel(context.Background())
	return &GoroutineTest{
		t:      t,
		errors: make(chan error, 100), // buffered to avoid blocking
		ctx:    ctx,
		cancel: cancel,
	}
}

// NewGoroutineTestWithTimeout creates a GoroutineTest with a timeout.
func NewGoroutineTestWithTimeout(t *testing.T, timeout time.Duration) *GoroutineTest {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return &GoroutineTest{
		t:      t,
		errors: make(chan error, 100),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go runs a function in a goroutine and collects any errors.
//
// The function should return an error instead of calling t.Fatal.
// All errors are collected and reported when Wait() is called.
func (gt *GoroutineTest) Go(fn func() error) {
	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		if err := fn(); err != nil {
			select {
			case gt.errors <- err:
			default:
				// Buffer full, log to prevent blocking
				gt.t.Logf("Error channel full, dropping error: %v", err)
			}
		}
	}()
}

// GoWithContext runs a function with context in a goroutine.
func (gt *GoroutineTest) GoWithContext(fn func(ctx context.Context) error) {
	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		if err := fn(gt.ctx); err != nil {
			select {
			case gt.errors <- err:
			case <-gt.ctx.Done():
				// Context cancelled, ignore error
			}
		}
	}()
}

// Wait waits for all goroutines to complete and fails the test if any errors occurred.
//
// This should be called with defer right after creating the GoroutineTest:
//
//	gt := testutil.NewGoroutineTest(t)
//	defer gt.Wait()
func (gt *GoroutineTest) Wait() {
	gt.wg.Wait()
	gt.cancel()
	close(gt.errors)

	var errs []error
	for err := range gt.errors {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		gt.t.Errorf("Goroutine test failed with %d error(s):", len(errs))
		for i, err := range errs {
			gt.t.Errorf("  [%d] %v", i+1, err)
		}
		gt.t.FailNow()
	}
}

// Context returns the context for this test.
func (gt *GoroutineTest) Context() context.Context {
	return gt.ctx
}

// Cancel cancels the context, signaling goroutines to stop.
func (gt *GoroutineTest) Cancel() {
	gt.cancel()
}

// =============================================================================
// Parallel Test Runner
// =============================================================================

// ParallelRunner runs multiple test cases in parallel.
//
// Example:
//
//	func TestParallel(t *testing.T) {
//	    runner := testutil.NewParallelRunner(t)
//
//	    runner.Add("latest", func() error {
//	        _, err := st.Latest(5)
//	        return err
//	    })
//	    runner.Add("count", func() error {
//	        _, err := st.Count()
//	        return err
//	    })
//
//	    runner.Run()
//	}
type ParallelRunner struct {
	t     *testing.T
	cases []testCase
}

type testCase struct {
	name string
	fn   func() error
}

// NewParallelRunner creates a new parallel test runner.
func NewParallelRunner(t *testing.T) *ParallelRunner {
	return &ParallelRunner{t: t}
}

// Add adds a test case to the runner.
func (r *ParallelRunner) Add(name string, fn func() error) {
	r.cases = append(r.cases, testCase{name: name, fn: fn})
}

// Run executes all test cases in parallel and reports any failures.
func (r *ParallelRunner) Run() {
	type result struct {
		name string
		err  error
	}

	results := make(chan result, len(r.cases))
	var wg sync.WaitGroup

	for _, tc := range r.cases {
		wg.Add(1)
		go func(tc testCase) {
			defer wg.Done()
			err := tc.fn()
			results <- result{name: tc.name, err: err}
		}(tc)
	}

	wg.Wait()
	close(results)

	var failures []result
	for res := range results {
		if res.err != nil {
			failures = append(failures, res)
		}
	}

	if len(failures) > 0 {
		r.t.Errorf("Parallel test failed with %d failure(s):", len(failures))
		for _, f := range failures {
			r.t.Errorf("  [%s] %v", f.name, f.err)
		}
		r.t.FailNow()
	}
}

// =============================================================================
// Assertion Helpers
// =============================================================================

// AssertEqual returns an error if got != want.
func AssertEqual[T comparable](got, want T, msg string) error {
	if got != want {
		return fmt.Errorf("%s: got %v, want %v", msg, got, want)
	}
	return nil
}

// AssertNoError returns an error if err is not nil.
func AssertNoError(err error, msg string) error {
	if err != nil {
		return fmt.Errorf("%s: unexpected error: %w", msg, err)
	}
	return nil
}

// AssertError returns an error if err is nil.
func AssertError(err error, msg string) error {
	if err == nil {
		return fmt.Errorf("%s: expected error, got nil", msg)
	}
	return nil
}

// =============================================================================
// Test Timeout Helper
// =============================================================================

// WithTimeout runs a function with a timeout.
//
// Example:
//
//	err := testutil.WithTimeout(5*time.Second, func() error {
//	    // long running operation
//	    return nil
//	})
//	if err != nil {
//	    t.Fatal(err)
//	}
func WithTimeout(timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("operation timed out after %v", timeout)
	}
}

// =============================================================================
// Polling Helper
// =============================================================================

// Eventually waits for a condition to become true.
//
// Example:
//
//	err := testutil.Eventually(time.Second, 10*time.Millisecond, func() bool {
//	    return rec.Persisting()
//	})
func Eventually(timeout, interval time.Duration, condition func() bool) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return nil
		}
		time.Sleep(interval)
	}
	return fmt.Errorf("condition not met within %v", timeout)
}
