package registry

import (
	"log/slog"
	"time"
)

// Option defines a functional configuration type for the Hub.
type Option func(*Hub)

// WithEvictionInterval configures how often the [JANITOR] process runs
// to reclaim idle conversation cells.
func WithEvictionInterval(d time.Duration) Option {
	return func(h *Hub) {
		h.config.evictionInterval = d
	}
}

// WithIdleTimeout defines the [QUIET_PERIOD] after which a cell
// with an empty mailbox is eligible for retirement.
func WithIdleTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.config.idleTimeout = d
	}
}

// WithMailboxSize sets the [BACKPRESSURE] threshold per conversation.
func WithMailboxSize(size int) Option {
	return func(h *Hub) {
		h.config.mailboxSize = size
	}
}

// WithMaxInFlight bounds how many events are processed at once across all conversations.
func WithMaxInFlight(n int) Option {
	return func(h *Hub) {
		h.config.maxInFlight = n
	}
}

// WithJobTimeout caps the processing time of a single event.
func WithJobTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.config.jobTimeout = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}
