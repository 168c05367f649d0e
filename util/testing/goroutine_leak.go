// Package testing holds helpers for tests that start goroutines.
package testing

import (
	"errors"
	"runtime"
	"testing"
	"time"
)

// ErrTimeout is returned by WaitFor when fn does not return in time
var ErrTimeout = errors.New("did not return within timeout")

// CheckGoroutineCleanup verifies no goroutine outlives the test.
// Usage: defer CheckGoroutineCleanup(t)()
func CheckGoroutineCleanup(t *testing.T) func() {
	t.Helper()
	before := runtime.NumGoroutine()

	return func() {
		t.Helper()
		// Polled inline; a helper goroutine would count itself
		deadline := time.Now().Add(5 * time.Second)
		for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
			time.Sleep(20 * time.Millisecond)
		}

		if leaked := runtime.NumGoroutine() - before; leaked > 0 {
			buf := make([]byte, 1<<16)
			n := runtime.Stack(buf, true)
			t.Logf("Stack traces:\n%s", buf[:n])
			t.Errorf("Goroutine leak detected: %d goroutines still running", leaked)
		}
	}
}

// WaitFor runs fn and waits at most timeout for it to return.
// fn keeps running in the background after a timeout.
func WaitFor(fn func(), timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrTimeout
	}
}
