package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/webitel/im-support-bot/config"
	"go.uber.org/fx"
)

var Module = fx.Module("pubsub",
	fx.Provide(
		func(logger *slog.Logger) watermill.LoggerAdapter {
			return watermill.NewSlogLogger(logger.With("component", "watermill"))
		},
		func(lc fx.Lifecycle, cfg *config.Config, logger watermill.LoggerAdapter) (*Provider, error) {
			p, err := NewProvider(cfg, logger)
			if err != nil {
				return nil, err
			}
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					return p.Close()
				},
			})
			return p, nil
		},
	),
)
