package pubsub

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webitel/im-support-bot/internal/domain/model"
)

// AnalyticsDispatcher decouples the reply path from analytics publishing.
// LogMessage never blocks: events are queued and a single worker publishes them.
type AnalyticsDispatcher struct {
	publisher EventPublisher
	timeout   time.Duration
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan model.AnalyticsEvent
	done   chan struct{}

	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// NewAnalyticsDispatcher returns a dispatcher; a nil publisher discards everything.
func NewAnalyticsDispatcher(publisher EventPublisher, queueSize int, timeout time.Duration, logger *slog.Logger) *AnalyticsDispatcher {
	return &AnalyticsDispatcher{
		publisher: publisher,
		timeout:   timeout,
		logger:    logger,
		queue:     make(chan model.AnalyticsEvent, max(queueSize, 1)),
		done:      make(chan struct{}),
	}
}

// Start launches the publishing worker.
func (d *AnalyticsDispatcher) Start() {
	go d.run()
}

// LogMessage enqueues ev or drops it when the queue is full.
func (d *AnalyticsDispatcher) LogMessage(_ context.Context, ev model.AnalyticsEvent) {
	if d.publisher == nil {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- ev:
	default:
		// [BACKPRESSURE] Analytics must never slow down a reply.
		if n := d.dropped.Add(1); n == 1 || n%100 == 0 {
			d.logger.Warn("ANALYTICS_QUEUE_FULL", "dropped_total", n, "kind", string(ev.Kind))
		}
	}
}

func (d *AnalyticsDispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		d.publish(ev)
	}
}

func (d *AnalyticsDispatcher) publish(ev model.AnalyticsEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.logger.Error("PANIC_RECOVERED", "err", r, "stack", string(debug.Stack()), "event_id", ev.ID)
		}
	}()

	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if err := d.publisher.Publish(ctx, ev); err != nil {
		d.failed.Add(1)
		d.logger.Warn("ANALYTICS_PUBLISH_FAILED",
			"kind", string(ev.Kind),
			"conversation_id", ev.ConversationID,
			"err", err,
		)
		return
	}
	d.published.Add(1)
}

// Stop closes the queue and waits for the worker to flush what is left.
func (d *AnalyticsDispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-ctx.Done():
		d.logger.Warn("ANALYTICS_FLUSH_ABANDONED", "pending", len(d.queue))
		return ctx.Err()
	}

	if d.publisher != nil {
		return d.publisher.Close()
	}
	return nil
}

// Stats reports published, dropped and failed counters.
func (d *AnalyticsDispatcher) Stats() (published, dropped, failed int64) {
	return d.published.Load(), d.dropped.Load(), d.failed.Load()
}
