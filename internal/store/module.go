package store

import (
	"context"
	"log/slog"

	"github.com/webitel/im-support-bot/config"
	"go.uber.org/fx"
)

var Module = fx.Module("store",
	fx.Provide(
		func(cfg *config.Config) *DedupSet {
			return NewDedupSet(cfg.Dedup.Size, cfg.Dedup.Retention)
		},
		func(cfg *config.Config, rules *config.RuleSource, logger *slog.Logger) *ResponseCache {
			c := NewResponseCache(cfg.Cache.Size, cfg.Cache.TTL, rules.Rules().CachePatterns, logger)
			// [HOT_RELOAD] Question templates follow the rule file.
			rules.Subscribe(func(r config.RulesConfig) { c.SetPatterns(r.CachePatterns) })
			return c
		},
		func(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) *SessionStore {
			s := NewSessionStore(cfg.Session.TTL, WithSessionLogger(logger))
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					s.StartJanitor(cfg.Session.SweepInterval)
					return nil
				},
				OnStop: func(context.Context) error {
					s.Stop()
					return nil
				},
			})
			return s
		},
	),
)
