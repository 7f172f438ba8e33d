package amqp

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/webitel/im-support-bot/config"
	infrapubsub "github.com/webitel/im-support-bot/infra/pubsub"
)

const (
	AnalyticsHandlerName = "ON_ANALYTICS_EVENT"
	poisonSuffix         = ".poison"
)

type AnalyticsHandler struct {
	sink   Sink
	logger *slog.Logger
	topic  string
}

func NewAnalyticsHandler(sink Sink, cfg *config.Config, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{sink: sink, logger: logger, topic: cfg.Analytics.Topic}
}

func NewWatermillRouter(logger watermill.LoggerAdapter) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 10 * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("ROUTER_SETUP_FAILED: %w", err)
	}
	return router, nil
}

// [REGISTRATION_PIPELINE]
func (h *AnalyticsHandler) RegisterHandlers(router *message.Router, provider *infrapubsub.Provider) error {
	poison, err := middleware.PoisonQueue(provider.Publisher, h.topic+poisonSuffix)
	if err != nil {
		return fmt.Errorf("POISON_SETUP_FAILED: %w", err)
	}

	router.AddConsumerHandler(
		AnalyticsHandlerName,
		h.topic,
		provider.Subscriber,
		Bind(h.logger, h.OnAnalyticsEvent),
	).AddMiddleware(
		TraceIDMiddleware,
		LoggingMiddleware(h.logger),
		poison,
		NewRetryMiddleware().Middleware,
		middleware.NewThrottle(100, time.Second).Middleware,
		middleware.Timeout(time.Second*30),
	)

	h.logger.Info("ANALYTICS_PIPELINE_READY", "topic", h.topic, "backend", provider.Backend)
	return nil
}
