package pubsub

import (
	"context"
	"log/slog"

	"github.com/webitel/im-support-bot/config"
	infrapubsub "github.com/webitel/im-support-bot/infra/pubsub"
	"go.uber.org/fx"
)

var Module = fx.Module("analytics-publisher",
	fx.Provide(
		func(cfg *config.Config, provider *infrapubsub.Provider) EventPublisher {
			switch cfg.Analytics.Backend {
			case config.AnalyticsKafka:
				return NewKafkaPublisher(NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
			case config.AnalyticsGoChannel, config.AnalyticsAMQP:
				return NewWatermillPublisher(provider.Publisher, cfg.Analytics.Topic)
			default:
				return nil
			}
		},
		func(lc fx.Lifecycle, cfg *config.Config, pub EventPublisher, logger *slog.Logger) *AnalyticsDispatcher {
			d := NewAnalyticsDispatcher(pub, cfg.Analytics.QueueSize, cfg.Analytics.PublishTimeout, logger)
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					d.Start()
					return nil
				},
				OnStop: func(ctx context.Context) error {
					return d.Stop(ctx)
				},
			})
			return d
		},
	),
)
