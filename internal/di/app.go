// Package di wires every concrete infrastructure implementation into the
// Scan Decider, Offline Manifest Builder, Mint Orchestrator, Anomaly
// Detector, Treasury Guard, and Sync Consumer, by hand, composing the
// dependency graph directly without relying on wire codegen.
package di

import (
	"context"
	"log/slog"
	"time"

	"github.com/pannpers/go-logging/logging"

	"github.com/ticketcore/scancore/internal/infrastructure/server"
	"github.com/ticketcore/scancore/pkg/config"
	"github.com/ticketcore/scancore/pkg/shutdown"
)

// App represents the scan/manifest/mint HTTP API process.
type App struct {
	Server          *server.Server
	HealthServer    *server.HealthServer
	Logger          *logging.Logger
	ShutdownTimeout time.Duration
}

// Shutdown stops the HTTP and health servers first so in-flight
// scans/mints finish, then runs the phased shutdown.Shutdown sequence
// registered during InitializeApp.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info(ctx, "starting application shutdown")

	if err := a.Server.Stop(); err != nil {
		a.Logger.Error(ctx, "error stopping http server", err)
	}
	if err := a.HealthServer.Close(); err != nil {
		a.Logger.Error(ctx, "error stopping health server", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, a.ShutdownTimeout)
	defer cancel()
	return shutdown.Shutdown(shutdownCtx)
}

func provideLogger(cfg *config.Config) (*logging.Logger, error) {
	var opts []logging.Option
	switch cfg.Logging.Level {
	case "debug":
		opts = append(opts, logging.WithLevel(slog.LevelDebug))
	case "info":
		opts = append(opts, logging.WithLevel(slog.LevelInfo))
	case "warn":
		opts = append(opts, logging.WithLevel(slog.LevelWarn))
	case "error":
		opts = append(opts, logging.WithLevel(slog.LevelError))
	}
	switch cfg.Logging.Format {
	case "text":
		opts = append(opts, logging.WithFormat(logging.FormatText))
	case "json":
		opts = append(opts, logging.WithFormat(logging.FormatJSON))
	}
	return logging.New(opts...)
}
