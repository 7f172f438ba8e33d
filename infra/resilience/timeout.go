package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when an operation exceeds its own deadline while the parent context is still alive.
var ErrTimeout = errors.New("operation timed out")

// WithTimeout runs fn under its own deadline.
// The caller is released when d elapses even if fn ignores its context.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		val T
		err error
	}
	// [BUFFERED] The worker must never block on send after the caller left.
	done := make(chan result, 1)
	go func() {
		v, err := fn(tctx)
		done <- result{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return r.val, fmt.Errorf("%w after %s: %v", ErrTimeout, d, r.err)
		}
		return r.val, r.err
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("%w after %s", ErrTimeout, d)
	}
}
