package registry

import (
	"context"
	"log/slog"

	"github.com/webitel/im-support-bot/config"
	"go.uber.org/fx"
)

var Module = fx.Module("registry",
	fx.Provide(
		// [CLEAN_INJECTION] Configure Hub using Functional Options
		func(cfg *config.Config, handler Handler, logger *slog.Logger) *Hub {
			return NewHub(handler,
				WithEvictionInterval(cfg.Dispatch.EvictionInterval),
				WithIdleTimeout(cfg.Dispatch.IdleTimeout),
				WithMailboxSize(cfg.Dispatch.MailboxSize),
				WithMaxInFlight(cfg.Dispatch.MaxInFlight),
				WithJobTimeout(cfg.Dispatch.JobTimeout),
				WithLogger(logger),
			)
		},
		fx.Annotate(
			func(h *Hub) *Hub { return h },
			fx.As(new(Hubber)),
		),
	),
	fx.Invoke(func(lc fx.Lifecycle, h *Hub) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				h.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				// [GRACEFUL_SHUTDOWN] Drain acknowledged events before exit
				return h.Shutdown(ctx)
			},
		})
	}),
)
