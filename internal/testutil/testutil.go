// Package testutil provides helpers for tests that run goroutines.
//
// Calling t.Fatal from a goroutine other than the test's only exits that
// goroutine. The helpers here report through returned errors instead.
package testutil

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

// GoroutineTest runs functions in goroutines and reports their errors on
// Wait.
//
//	gt := testutil.NewGoroutineTest(t, 5*time.Second)
//	gt.GoWithContext(func(ctx context.Context) error {
//	    return loop.Run(ctx)
//	})
//	...
//	gt.Cancel()
//	gt.Wait()
type GoroutineTest struct {
	t      *testing.T
	wg     sync.WaitGroup
	errs   chan error
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGoroutineTest creates a helper whose context ends after timeout.
func NewGoroutineTest(t *testing.T, timeout time.Duration) *GoroutineTest {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return &GoroutineTest{
		t:      t,
		errs:   make(chan error, 16),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go runs fn in a goroutine.
func (gt *GoroutineTest) Go(fn func() error) {
	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		if err := fn(); err != nil {
			select {
			case gt.errs <- err:
			default:
				gt.t.Logf("error channel full, dropping: %v", err)
			}
		}
	}()
}

// GoWithContext runs fn with the helper's context.
func (gt *GoroutineTest) GoWithContext(fn func(ctx context.Context) error) {
	gt.Go(func() error { return fn(gt.ctx) })
}

// Context returns the helper's context.
func (gt *GoroutineTest) Context() context.Context {
	return gt.ctx
}

// Cancel cancels the helper's context.
func (gt *GoroutineTest) Cancel() {
	gt.cancel()
}

// Wait waits for every goroutine and fails the test if any returned an
// error. It may be called only once.
func (gt *GoroutineTest) Wait() {
	gt.t.Helper()
	gt.wg.Wait()
	close(gt.errs)

	failed := false
	for err := range gt.errs {
		gt.t.Errorf("goroutine: %v", err)
		failed = true
	}
	if failed {
		gt.t.FailNow()
	}
}

// =============================================================================
// Timing
// =============================================================================

// WithTimeout runs fn and fails if it does not return within timeout. fn
// keeps running in the background after a timeout.
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

// Eventually polls condition every interval until it holds or timeout
// passes.
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
