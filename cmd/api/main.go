// Package main provides the scan/manifest/mint HTTP API entry point.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ticketcore/scancore/internal/di"
)

func main() {
	if err := run(); err != nil {
		log.Printf("server failed: %v", err)
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

	log.Println("starting scancore api")

	app, err := di.InitializeApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Shutdown(context.Background()); err != nil {
			log.Printf("error during shutdown: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("received shutdown signal, stopping server gracefully")
	return nil
}
