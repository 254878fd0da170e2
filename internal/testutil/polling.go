// Package testutil holds helpers shared by tests: a manually advanced clock,
// polling for conditions that settle on other goroutines, and unique names
// for tests sharing a backend.
package testutil

import (
	"context"
	"fmt"
	"time"
)

// Poll calls condition every interval until it reports true. It fails when
// timeout elapses first or ctx is done.
func Poll(ctx context.Context, condition func() bool, timeout, interval time.Duration) error {
	_, err := WaitFor(ctx, condition, func(ok bool) bool { return ok }, timeout, interval)
	return err
}

// WaitFor calls get every interval until pred accepts the value, which is
// then returned. On timeout or cancellation the zero value is returned with
// the error.
func WaitFor[T any](ctx context.Context, get func() T, pred func(T) bool, timeout, interval time.Duration) (T, error) {
	var zero T
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if v := get(); pred(v) {
			return v, nil
		}
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return zero, fmt.Errorf("condition not met within %v: %w", timeout, ctx.Err())
			}
			return zero, ctx.Err()
		case <-ticker.C:
		}
	}
}
