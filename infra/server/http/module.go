package http

import (
	"context"
	"log/slog"

	"github.com/webitel/im-support-bot/config"
	"github.com/webitel/im-support-bot/internal/handler/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("http-server",
	fx.Provide(
		func(cfg *config.Config, h *webhook.WebhookHandler, logger *slog.Logger) *Server {
			return New(cfg.Server.Addr, h.Routes(), logger)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error { return s.Start() },
			OnStop:  func(ctx context.Context) error { return s.Stop(ctx) },
		})
	}),
)
