package resilience

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/webitel/im-support-bot/config"
	"go.uber.org/fx"
)

var Module = fx.Module("resilience",
	fx.Provide(
		func(cfg *config.Config, logger *slog.Logger) *Breakers {
			return NewBreakers(logger, map[string]BreakerSettings{
				DependencyPlatform: {
					Threshold:    cfg.Breaker.Platform.Threshold,
					OpenDuration: cfg.Breaker.Platform.OpenDuration,
				},
				DependencyGeneration: {
					Threshold:    cfg.Breaker.Generation.Threshold,
					OpenDuration: cfg.Breaker.Generation.OpenDuration,
				},
			})
		},
		func(lc fx.Lifecycle) *http.Client {
			t := NewTransport(DefaultTransportOptions())
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					t.CloseIdleConnections()
					return nil
				},
			})
			return NewHTTPClient(t)
		},
	),
)
