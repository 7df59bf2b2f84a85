package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/percolator-labs/percolator/internal/config"
	"github.com/percolator-labs/percolator/internal/harness"
	"github.com/percolator-labs/percolator/internal/logging"
)

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	harnessCfg, err := config.LoadHarnessConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load harness config", "err", err)
		os.Exit(1)
	}
	slabCfg, err := config.LoadSlabConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load slab config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("percolator-sim", harnessCfg.Log)
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := closeLogger(); closeErr != nil {
			bootstrapLogger.Error("failed to close logger", "err", closeErr)
		}
	}()

	if source, sourceErr := config.CurrentConfigSource(); sourceErr == nil {
		logger.Info("configuration loaded", "phase", source.Phase, "path", source.Path, "loaded", source.Loaded)
	}

	svc, err := harness.New(harnessCfg, slabCfg, logger)
	if err != nil {
		logger.Error("failed to initialize percolator-sim service", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		logger.Error("percolator-sim exited with error", "err", err)
		os.Exit(1)
	}
}
