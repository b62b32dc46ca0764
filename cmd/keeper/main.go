package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ghostodds/backend/internal/config"
	"github.com/ghostodds/backend/internal/keeper"
	"github.com/ghostodds/backend/internal/logging"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	if err := run(); err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("keeper exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadKeeperConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLogger, err := logging.New("keeper", cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = closeLogger()
	}()

	if source, sourceErr := config.CurrentConfigSource(); sourceErr == nil {
		logger.Info("configuration loaded", "phase", source.Phase, "path", source.Path, "loaded", source.Loaded)
	}

	svc, err := keeper.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("init keeper: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return svc.Run(ctx)
}
