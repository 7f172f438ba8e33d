package amqp

import (
	"context"
	"log/slog"

	"github.com/webitel/im-support-bot/infra/storage/postgres"
	"github.com/webitel/im-support-bot/internal/domain/model"
)

// Interface guard
var (
	_ Sink = (*postgres.AnalyticsRepository)(nil)
	_ Sink = (*LogSink)(nil)
)

// Sink stores consumed analytics events.
type Sink interface {
	Save(ctx context.Context, ev model.AnalyticsEvent) error
}

// LogSink writes analytics rows to the log when no database is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Save(ctx context.Context, ev model.AnalyticsEvent) error {
	s.logger.InfoContext(ctx, "ANALYTICS_EVENT",
		"kind", string(ev.Kind),
		"system", ev.Kind.IsSystem(),
		"conversation_id", ev.ConversationID,
		"session_id", ev.SessionID,
		"event_id", ev.EventID,
		"meta", ev.Meta,
	)
	return nil
}

// [ON_ANALYTICS_EVENT]
// Persists one analytics event; storage errors are retried by the router.
func (h *AnalyticsHandler) OnAnalyticsEvent(ctx context.Context, ev *model.AnalyticsEvent) error {
	if ev.ConversationID == "" || ev.Kind == "" {
		h.logger.Warn("ANALYTICS_EVENT_INVALID", "event_id", ev.ID)
		return nil // ACK: nothing to store.
	}
	return h.sink.Save(ctx, *ev)
}
