package platform

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Business codes the platform returns with HTTP 200.
const (
	codeOK                 = 0
	codeRateLimited        = 99991400
	codeInvalidAccessToken = 99991663
	codeExpiredToken       = 99991677
)

// StatusError captures a failed platform call with HTTP and business status.
type StatusError struct {
	StatusCode int
	Code       int
	Msg        string
	Op         string
	retryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("platform: %s failed with status %d (code %d): %s", e.Op, e.StatusCode, e.Code, e.Msg)
}

// HTTPStatusCode folds business codes into the HTTP status space so callers can classify them.
func (e *StatusError) HTTPStatusCode() int {
	if e.StatusCode >= 200 && e.StatusCode < 300 {
		switch e.Code {
		case codeRateLimited:
			return http.StatusTooManyRequests
		case codeInvalidAccessToken, codeExpiredToken:
			return http.StatusUnauthorized
		default:
			return http.StatusBadRequest
		}
	}
	return e.StatusCode
}

func (e *StatusError) RetryAfter() time.Duration { return e.retryAfter }

// Unauthorized reports whether the cached token should be dropped.
func (e *StatusError) Unauthorized() bool {
	return e.HTTPStatusCode() == http.StatusUnauthorized
}

func parseRetryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(time.Until(at), 0)
	}
	return 0
}
