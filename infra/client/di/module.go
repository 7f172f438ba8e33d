package clientdi

import (
	"log/slog"
	"net/http"

	"github.com/webitel/im-support-bot/config"
	"github.com/webitel/im-support-bot/infra/client/llm"
	"github.com/webitel/im-support-bot/infra/client/platform"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"clients",

	// [CONSTRUCTOR] Outbound clients share the pooled transport from the resilience module
	fx.Provide(
		func(cfg *config.Config, hc *http.Client) *llm.Client {
			return llm.New(cfg.LLM, hc)
		},
		func(cfg *config.Config, hc *http.Client, logger *slog.Logger) platform.Messenger {
			if cfg.Platform.DryRun {
				logger.Warn("PLATFORM_DRY_RUN", "reason", "outbound messages are logged, not sent")
				return platform.NewLogClient(logger)
			}
			return platform.New(cfg.Platform, hc, logger)
		},
	),
)
