package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/domain-guardian/internal/app"
	"github.com/leozw/domain-guardian/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize engine", zap.Error(err))
	}
	defer engine.Close()

	if err := engine.Scheduler.Start(); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	go engine.Metrics.StartRemoteWrite(ctx)
	go engine.ConsumeChecks(ctx)

	go func() {
		if err := engine.Server.Start(); err != nil {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	logger.Info("Worker started",
		zap.String("environment", cfg.Environment),
		zap.String("schedule", cfg.MonitoringSchedule()),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := engine.Server.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server forced to shutdown", zap.Error(err))
	}
	if err := engine.Scheduler.Stop(shutdownCtx); err != nil {
		logger.Error("Scheduler did not stop cleanly", zap.Error(err))
	}
	if err := engine.Metrics.WriteToMimir(shutdownCtx); err != nil {
		logger.Warn("Final remote write failed", zap.Error(err))
	}

	logger.Info("Worker exited")
}
