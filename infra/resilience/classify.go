package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/sony/gobreaker"
)

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	HTTPStatusCode() int
}

// RetryAfterer is implemented by errors that carry a server-provided retry delay.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// IsRetryable classifies an error as transient (timeouts, resets, 5xx, 429) or terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// [FAIL_FAST] An open breaker is a decision, not a transient fault.
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatusCode()
		return code == http.StatusTooManyRequests || code >= 500
	}

	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// IsTerminal is the complement of IsRetryable for non-nil errors.
func IsTerminal(err error) bool {
	return err != nil && !IsRetryable(err)
}

// IsClientError reports a 4xx upstream response other than 429.
func IsClientError(err error) bool {
	var sc StatusCoder
	if !errors.As(err, &sc) {
		return false
	}
	code := sc.HTTPStatusCode()
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}
