package amqp

import (
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const MetaTraceID = "trace_id"

// [TRACE_ID_MIDDLEWARE]
// Ensures every consumed message carries a trace id and runs inside a consumer span.
func TraceIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	tracer := otel.Tracer("github.com/webitel/im-support-bot/internal/handler/amqp")

	return func(msg *message.Message) ([]*message.Message, error) {
		traceID := msg.Metadata.Get(MetaTraceID)
		if traceID == "" {
			traceID = uuid.NewString()
			msg.Metadata.Set(MetaTraceID, traceID)
		}

		ctx, span := tracer.Start(msg.Context(), "analytics.consume",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.message.id", msg.UUID),
				attribute.String("trace_id", traceID),
			),
		)
		defer span.End()
		msg.SetContext(ctx)

		msgs, err := h(msg)
		if err != nil {
			span.RecordError(err)
		}
		return msgs, err
	}
}

// [LOGGING_MIDDLEWARE]
// Structured logging with latency and TraceID.
func LoggingMiddleware(logger *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			msgs, err := h(msg)

			logger.Debug("MESSAGE_HANDLED",
				"msg_id", msg.UUID,
				"trace_id", msg.Metadata.Get(MetaTraceID),
				"duration_ms", time.Since(start).Milliseconds(),
				"success", err == nil,
			)
			return msgs, err
		}
	}
}

// [RETRY_MIDDLEWARE]
func NewRetryMiddleware() middleware.Retry {
	return middleware.Retry{
		MaxRetries:      3,
		InitialInterval: time.Second * 2,
		MaxInterval:     time.Second * 15,
		Multiplier:      2.0,
	}
}
