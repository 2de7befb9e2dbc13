package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/ablaszkiewicz/google-meet-slack-emojis/internal/server"
	"github.com/ablaszkiewicz/google-meet-slack-emojis/pkg/config"
	"github.com/ablaszkiewicz/google-meet-slack-emojis/pkg/logging"
)

func main() {
	logger := logging.New(logging.LevelDebug)
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background())
	defer stop()

	app, err := server.NewApp(logger, ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize agent", slog.Any("error", err))
		os.Exit(1)
	}
	if err := app.Run(); err != nil {
		logger.Error("Agent run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Agent shut down successfully.")
}
