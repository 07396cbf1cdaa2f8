// Package main provides the event.blockchain_sync_requested consumer
// entry point. It runs a Watermill Router over NATS JetStream (or
// GoChannel in local development) driving the Sync Consumer and Mint
// Orchestrator.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pannpers/go-logging/logging"

	"github.com/ticketcore/scancore/internal/di"
)

func main() {
	if err := run(); err != nil {
		logger, _ := logging.New()
		logger.Error(context.Background(), "consumer failed", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	bootLogger, _ := logging.New()
	bootLogger.Info(ctx, "starting blockchain sync consumer")

	app, err := di.InitializeConsumerApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Shutdown(context.Background()); err != nil {
			app.Logger.Error(context.Background(), "error during shutdown", err)
		}
	}()

	go func() {
		if err := app.HealthServer.Start(); err != nil {
			app.Logger.Error(ctx, "health server failed", err)
		}
	}()

	app.Logger.Info(ctx, "consumer router starting")

	errChan := make(chan error, 1)
	go func() {
		if err := app.Router.Run(ctx); err != nil {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		app.Logger.Info(ctx, "received shutdown signal, stopping consumer gracefully",
			slog.String("cause", context.Cause(ctx).Error()),
		)
		return nil

	case err := <-errChan:
		if err != nil {
			app.Logger.Error(ctx, "consumer router stopped with error", err)
			return err
		}
		app.Logger.Info(ctx, "consumer router stopped gracefully")
		return nil
	}
}
