package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy configures exponential backoff with jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the randomization factor in [0,1]; zero means the default of 0.5.
	Jitter float64
}

// Notify is called before sleeping between attempts.
type Notify func(err error, wait time.Duration)

// Retry runs op until it succeeds, returns a terminal error, or MaxAttempts is reached.
// It returns the number of attempts made alongside the final result.
func Retry[T any](ctx context.Context, p RetryPolicy, op func(ctx context.Context, attempt int) (T, error), notify Notify) (T, int, error) {
	eb := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		eb.InitialInterval = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		eb.MaxInterval = p.MaxDelay
	}
	if p.Jitter > 0 {
		eb.RandomizationFactor = p.Jitter
	}
	b := &hintedBackOff{inner: eb}

	attempts := 0
	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(max(p.MaxAttempts, 1))),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(notify)))
	}

	v, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := op(ctx, attempts)
		if err == nil {
			return v, nil
		}
		if !IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		var ra RetryAfterer
		if errors.As(err, &ra) {
			b.hint(ra.RetryAfter())
		}
		return v, err
	}, opts...)

	return v, attempts, err
}

// hintedBackOff lets a server-provided Retry-After stretch the next wait.
type hintedBackOff struct {
	inner backoff.BackOff
	next  time.Duration
}

func (h *hintedBackOff) hint(d time.Duration) { h.next = d }

func (h *hintedBackOff) NextBackOff() time.Duration {
	d := h.inner.NextBackOff()
	if h.next > d {
		d = h.next
	}
	h.next = 0
	return d
}

func (h *hintedBackOff) Reset() {
	h.next = 0
	h.inner.Reset()
}
