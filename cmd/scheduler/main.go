// Command scheduler runs a single monitoring sweep and exits. It is meant for
// deployments where an external scheduler triggers sweeps.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/leozw/domain-guardian/internal/app"
	"github.com/leozw/domain-guardian/internal/config"
	"github.com/leozw/domain-guardian/internal/scheduler"
)

func main() {
	purge := flag.Bool("purge", false, "purge logs older than the retention period after the sweep")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize engine", zap.Error(err))
	}
	defer engine.Close()

	res, err := engine.Scheduler.RunNow(ctx)
	switch {
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		logger.Info("Another instance is sweeping, nothing to do")
		return
	case err != nil:
		logger.Error("Sweep failed", zap.Error(err))
		engine.Close()
		os.Exit(1)
	}

	logger.Info("Sweep finished",
		zap.Int("domains", res.TotalDomains),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", res.Duration),
	)

	if *purge {
		if _, err := engine.Scheduler.PurgeLogsOlderThan(ctx, cfg.Monitoring.RetentionDays); err != nil {
			logger.Error("Log purge failed", zap.Error(err))
		}
	}

	if err := engine.Metrics.WriteToMimir(ctx); err != nil {
		logger.Warn("Remote write failed", zap.Error(err))
	}
}
