package container

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/emergent-company/containersvc/internal/config"
)

// Module provides every Container Service dependency and registers its
// HTTP routes and background workers.
var Module = fx.Options(
	fx.Provide(newStoreFromDB),
	fx.Provide(newGit),
	fx.Provide(newNotification),
	fx.Provide(NewStoreRegistry),
	fx.Provide(newExecutorRegistry),
	fx.Provide(newLogWriter),
	fx.Provide(newCapabilities),
	fx.Provide(newServiceFromConfig),
	fx.Provide(newLogMigrator),
	fx.Provide(newReconciler),
	fx.Provide(newHandler),
	fx.Invoke(registerRoutes),
	fx.Invoke(runLogMigration),
	fx.Invoke(runStartupReconciliation),
	fx.Invoke(startPeriodicReconciliation),
)

func newStoreFromDB(db *bun.DB) *Store {
	return NewStore(db)
}

func newGit() Git {
	return NewLocalGit("")
}

func newNotification(log *slog.Logger) Notification {
	return NewLogNotification(log)
}

func newExecutorRegistry() ExecutorRegistry {
	return NewExecutorRegistry(nil, nil)
}

func newLogWriter(db *bun.DB, cfg *config.Config) *LogWriter {
	return NewLogWriter(db, cfg.AssetRoot)
}

func newCapabilities(cfg *config.Config) Capabilities {
	return NewLocalCapabilities(cfg.AssetRoot, cfg.GitBranchPrefix)
}

func newServiceFromConfig(caps Capabilities, store *Store, git Git, notif Notification, stores *StoreRegistry, executors ExecutorRegistry, logWriter *LogWriter, log *slog.Logger) *Service {
	return NewService(caps, store, git, notif, stores, executors, logWriter, log)
}

func newLogMigrator(db *bun.DB, store *Store, cfg *config.Config) *LogMigrator {
	return NewLogMigrator(db, store, cfg.AssetRoot)
}

func newReconciler(svc *Service, store *Store, git Git, log *slog.Logger, cfg *config.Config) *Reconciler {
	return NewReconciler(svc, store, git, log, cfg.ReconcileInterval)
}

func newHandler(svc *Service, store *Store, stores *StoreRegistry, executors ExecutorRegistry, cfg *config.Config, log *slog.Logger) *Handler {
	return NewHandler(svc, store, stores, executors, cfg.AssetRoot, cfg.GitBranchPrefix, log)
}

func registerRoutes(e *echo.Echo, h *Handler) {
	RegisterRoutes(e, h)
}

// runLogMigration drains spec.md §4.5's legacy log table into on-disk
// files once at startup, before the HTTP surface starts serving log
// replay requests.
func runLogMigration(lc fx.Lifecycle, m *LogMigrator, log *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := m.Run(ctx); err != nil {
				log.Error("log migration failed", "error", err)
				return err
			}
			return nil
		},
	})
}

// runStartupReconciliation runs the orphan sweep and backfill passes of
// spec.md §4.7 once, before the server starts accepting traffic.
func runStartupReconciliation(lc fx.Lifecycle, r *Reconciler, log *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := r.RunStartup(ctx); err != nil {
				log.Error("startup reconciliation failed", "error", err)
				return err
			}
			return nil
		},
	})
}

// startPeriodicReconciliation starts the optional periodic safety-net
// worker, a no-op unless Config.ReconcileInterval > 0.
func startPeriodicReconciliation(lc fx.Lifecycle, r *Reconciler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return r.StartPeriodic(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return r.StopPeriodic(ctx)
		},
	})
}
