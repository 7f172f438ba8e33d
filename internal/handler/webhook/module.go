package webhook

import (
	"log/slog"

	"github.com/webitel/im-support-bot/config"
	"github.com/webitel/im-support-bot/infra/resilience"
	"github.com/webitel/im-support-bot/internal/domain/registry"
	"github.com/webitel/im-support-bot/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook",
	fx.Provide(
		func(cfg *config.Config, intake *service.Intake, breakers *resilience.Breakers, hub *registry.Hub, logger *slog.Logger) *WebhookHandler {
			return NewWebhookHandler(intake, breakers, hub, HandlerConfig{
				AckTimeout:   cfg.Server.AckTimeout,
				MaxBodyBytes: cfg.Server.MaxBodyBytes,
				EncryptKey:   cfg.Platform.EncryptKey,
			}, logger)
		},
	),
)
