package amqp

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	infrapubsub "github.com/webitel/im-support-bot/infra/pubsub"
	"github.com/webitel/im-support-bot/infra/storage/postgres"
	"go.uber.org/fx"
)

var Module = fx.Module("analytics-consumer",
	fx.Provide(
		func(repo *postgres.AnalyticsRepository, logger *slog.Logger) Sink {
			if repo == nil {
				return NewLogSink(logger)
			}
			return repo
		},
		NewAnalyticsHandler,
		NewWatermillRouter,
	),

	fx.Invoke(func(lc fx.Lifecycle, router *message.Router, h *AnalyticsHandler, provider *infrapubsub.Provider, logger *slog.Logger) error {
		// [OPTIONAL_CONSUMER] Kafka and "none" have nothing to consume in-process.
		if provider.Subscriber == nil {
			return nil
		}
		if err := h.RegisterHandlers(router, provider); err != nil {
			return err
		}

		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := router.Run(context.Background()); err != nil {
						logger.Error("ROUTER_STOPPED", "err", err)
					}
				}()
				return nil
			},
			OnStop: func(context.Context) error {
				return router.Close()
			},
		})
		return nil
	}),
)
