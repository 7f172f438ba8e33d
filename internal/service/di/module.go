package servicedi

import (
	"log/slog"

	"github.com/webitel/im-support-bot/config"
	"github.com/webitel/im-support-bot/infra/client/llm"
	"github.com/webitel/im-support-bot/infra/client/platform"
	"github.com/webitel/im-support-bot/infra/resilience"
	"github.com/webitel/im-support-bot/infra/storage/postgres"
	pubsubadapter "github.com/webitel/im-support-bot/internal/adapter/pubsub"
	"github.com/webitel/im-support-bot/internal/domain/registry"
	"github.com/webitel/im-support-bot/internal/service"
	"github.com/webitel/im-support-bot/internal/store"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		// [PORTS] Bind concrete stores and clients to the narrow interfaces the core depends on
		func(s *store.SessionStore) service.ConversationStore { return s },
		func(c *store.ResponseCache) service.ResponseCache { return c },
		func(d *store.DedupSet) service.EventDeduper { return d },
		func(h registry.Hubber) service.Scheduler { return h },
		func(m platform.Messenger) service.MessagingClient { return m },
		func(d *pubsubadapter.AnalyticsDispatcher) service.Analytics { return d },
		provideTicketRepository,

		func(rules *config.RuleSource) *service.Matcher {
			m := service.NewMatcher(rules.Rules())
			// [HOT_RELOAD] Routing follows the rule file.
			rules.Subscribe(m.Update)
			return m
		},

		// Domain services
		func(c *llm.Client, breakers *resilience.Breakers, cfg *config.Config) service.Generator {
			return service.NewResilientGenerator(c, breakers, cfg.LLM.Timeout)
		},
		fx.Annotate(
			func(client service.MessagingClient, breakers *resilience.Breakers, cfg *config.Config, logger *slog.Logger) *service.Delivery {
				return service.NewDelivery(client, breakers, cfg.Delivery, logger)
			},
			fx.As(new(service.Sender)),
		),
		func(
			sessions service.ConversationStore,
			tickets service.TicketRepository,
			analytics service.Analytics,
			matcher *service.Matcher,
			cfg *config.Config,
			logger *slog.Logger,
		) *service.TicketFlow {
			return service.NewTicketFlow(sessions, tickets, analytics, matcher, cfg.Replies, cfg.Tickets.Timeout, logger)
		},
		providePipeline,
		func(dedup service.EventDeduper, scheduler service.Scheduler, cfg *config.Config, logger *slog.Logger) *service.Intake {
			return service.NewIntake(dedup, scheduler, cfg.Platform.VerificationToken, logger)
		},

		// [HANDLER_BINDING] The hub runs every accepted event through the pipeline
		func(p *service.Pipeline) registry.Handler { return p.Process },
	),

	// [DECORATION_LAYER] Intercept Generator to add cross-cutting concerns
	fx.Decorate(func(orig service.Generator, logger *slog.Logger) service.Generator {
		return &service.GeneratorMiddleware{
			Next:   orig,
			Logger: logger,
		}
	}),
)

type pipelineParams struct {
	fx.In

	Sessions  service.ConversationStore
	Cache     service.ResponseCache
	Flow      *service.TicketFlow
	Matcher   *service.Matcher
	Generator service.Generator
	Sender    service.Sender
	Analytics service.Analytics
	Config    *config.Config
	Logger    *slog.Logger
}

func providePipeline(p pipelineParams) *service.Pipeline {
	return service.NewPipeline(service.PipelineDeps{
		Sessions:  p.Sessions,
		Cache:     p.Cache,
		Flow:      p.Flow,
		Matcher:   p.Matcher,
		Generator: p.Generator,
		Sender:    p.Sender,
		Analytics: p.Analytics,
		Replies:   p.Config.Replies,
		Logger:    p.Logger,
	})
}

// provideTicketRepository picks postgres when a database is configured, memory otherwise.
func provideTicketRepository(db *postgres.DB, logger *slog.Logger) service.TicketRepository {
	if db == nil {
		logger.Warn("TICKETS_IN_MEMORY", "reason", "postgres.dsn is empty")
		return service.NewMemoryTicketRepository()
	}
	return postgres.NewTicketRepository(db)
}
