// Package main provides the entry point for the Container Service.
//
// @title Container Service API
// @version 0.1.0
// @description Multi-tenant coding-agent container orchestrator: workspace
// @description provisioning, action-chain execution, and log streaming.
// @contact.name Emergent Team
// @contact.url https://emergent-company.ai
// @host localhost:5300
// @BasePath /
// @schemes http https
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/emergent-company/containersvc/domain/container"
	"github.com/emergent-company/containersvc/domain/health"
	"github.com/emergent-company/containersvc/domain/tracing"
	"github.com/emergent-company/containersvc/internal/config"
	"github.com/emergent-company/containersvc/internal/database"
	"github.com/emergent-company/containersvc/internal/jobs"
	"github.com/emergent-company/containersvc/internal/server"
	"github.com/emergent-company/containersvc/internal/storage"
	"github.com/emergent-company/containersvc/pkg/logger"
)

func main() {
	// Load .env files if present (for local development)
	// Order matters: .env.local overrides .env
	// Note: Load() won't overwrite existing vars, Overload() will
	_ = godotenv.Load("../../.env")
	_ = godotenv.Overload("../../.env.local") // Overload ensures local values take precedence

	fx.New(
		// Logging
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		database.Module,
		server.Module,
		storage.Module,
		jobs.Module,
		health.Module,
		tracing.Module,

		// Container Service: workspace/session/execution lifecycle, HTTP
		// surface, and startup/periodic reconciliation.
		container.Module,
	).Run()
}
