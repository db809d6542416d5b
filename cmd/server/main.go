// Package main is the entry point for the community library server.
//
// main only loads configuration, builds the logger and hands control to the
// supervision tree; all wiring lives in internal/server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sakif/community-library/internal/config"
	"github.com/sakif/community-library/internal/server"
	"github.com/sakif/community-library/internal/supervisor"
)

func main() {
	// .env, config.yaml and the environment, in that order of precedence
	// (environment wins).
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	// SIGINT (Ctrl+C) and SIGTERM (docker stop, systemd) cancel ctx, which
	// stops every supervised service.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, *cfg, logger)
	if err != nil {
		logger.Error("failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	tree := supervisor.NewTree(logger, supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	srv.Supervise(tree)

	logger.Info("server starting",
		slog.Int("port", cfg.Server.Port),
		slog.String("store", cfg.Store.Driver),
		slog.Bool("auth", cfg.Auth.Enabled()),
		slog.Bool("smtp", cfg.SMTP.Enabled()),
		slog.Bool("recommendations", cfg.Recommend.URL != ""),
		slog.Bool("rabbitmq", cfg.Events.RabbitMQURL != ""),
	)

	exitCode := 0
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("supervisor stopped", slog.String("error", err.Error()))
		exitCode = 1
	}

	if err := srv.Close(); err != nil {
		logger.Error("shutdown cleanup failed", slog.String("error", err.Error()))
		exitCode = 1
	}
	logger.Info("server stopped")
	stop()
	os.Exit(exitCode)
}
