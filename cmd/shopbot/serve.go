package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the Kapso webhook",
		Long:  "Serves /search, /ask, /workflow and, when kapso is enabled, the WhatsApp webhook. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	closeLog, err := configureLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	a.pruneHistory(ctx)

	logger.Info("shopbot starting",
		"version", version,
		"vector_store", a.store.Name(),
		"embedder", a.embedder.Name(),
		"kapso", a.kapso != nil,
		"notify_sinks", a.notifySinks(),
	)

	serveErr := a.server().Start(ctx)
	stop()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	if serveErr != nil {
		return fmt.Errorf("serve: %w", serveErr)
	}
	logger.Info("shutdown complete")
	return nil
}

func (a *app) notifySinks() []string {
	if a.dispatcher == nil {
		return nil
	}
	return a.dispatcher.Sinks()
}
