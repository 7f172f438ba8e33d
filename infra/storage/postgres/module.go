package postgres

import (
	"context"
	"log/slog"

	"github.com/webitel/im-support-bot/config"
	"go.uber.org/fx"
)

var Module = fx.Module("postgres",
	fx.Provide(
		// [OPTIONAL_STORAGE] Without a DSN the graph receives a nil *DB and falls back to memory/log sinks.
		func(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (*DB, error) {
			if cfg.Postgres.DSN == "" {
				return nil, nil
			}
			db, err := Open(context.Background(), cfg.Postgres.DSN)
			if err != nil {
				return nil, err
			}
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					if err := db.Migrate(ctx); err != nil {
						return err
					}
					logger.Info("POSTGRES_READY")
					return nil
				},
				OnStop: func(context.Context) error {
					db.Close()
					return nil
				},
			})
			return db, nil
		},
		func(db *DB) *AnalyticsRepository {
			if db == nil {
				return nil
			}
			return NewAnalyticsRepository(db)
		},
	),
)
