package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/webitel/im-support-bot/config"
	clientdi "github.com/webitel/im-support-bot/infra/client/di"
	infrapubsub "github.com/webitel/im-support-bot/infra/pubsub"
	"github.com/webitel/im-support-bot/infra/resilience"
	httpsrv "github.com/webitel/im-support-bot/infra/server/http"
	"github.com/webitel/im-support-bot/infra/storage/postgres"
	pubsubadapter "github.com/webitel/im-support-bot/internal/adapter/pubsub"
	"github.com/webitel/im-support-bot/internal/domain/registry"
	amqpdi "github.com/webitel/im-support-bot/internal/handler/amqp"
	"github.com/webitel/im-support-bot/internal/handler/webhook"
	servicedi "github.com/webitel/im-support-bot/internal/service/di"
	"github.com/webitel/im-support-bot/internal/store"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideRuleSource,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
		}),
		fx.Invoke(SetupTracing),

		resilience.Module,
		store.Module,
		registry.Module,
		clientdi.Module,
		postgres.Module,
		infrapubsub.Module,
		pubsubadapter.Module,
		servicedi.Module,
		amqpdi.Module,
		webhook.Module,
		httpsrv.Module,
	)
}

// ProvideLogger builds the JSON logger; with log.otel it also feeds the OpenTelemetry bridge.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}

	var h slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.Log.OTel {
		h = newFanoutHandler(h, otelslog.NewHandler(ServiceName))
	}

	logger := slog.New(h).With("service", ServiceName)
	slog.SetDefault(logger)
	return logger
}

// ProvideRuleSource seeds routing rules from config and follows the config file.
func ProvideRuleSource(cfg *config.Config, logger *slog.Logger) *config.RuleSource {
	src := config.NewRuleSource(cfg.Rules)
	cfg.WatchRules(logger, src)
	return src
}

// SetupTracing installs the global tracer provider when tracing is enabled.
func SetupTracing(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) {
	if !cfg.OTel.Enabled {
		return
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.OTel.SampleRatio))),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", ServiceName),
			attribute.String("service.namespace", ServiceNamespace),
			attribute.String("service.version", version),
		)),
	)
	otel.SetTracerProvider(tp)
	logger.Info("TRACING_ENABLED", "sample_ratio", cfg.OTel.SampleRatio)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
}
