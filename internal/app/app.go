// Package app wires configuration into a running monitoring engine.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/domain-guardian/internal/alerts"
	"github.com/leozw/domain-guardian/internal/api"
	"github.com/leozw/domain-guardian/internal/api/handlers"
	"github.com/leozw/domain-guardian/internal/checks"
	"github.com/leozw/domain-guardian/internal/clock"
	"github.com/leozw/domain-guardian/internal/config"
	"github.com/leozw/domain-guardian/internal/metrics"
	"github.com/leozw/domain-guardian/internal/monitoring"
	"github.com/leozw/domain-guardian/internal/queue"
	"github.com/leozw/domain-guardian/internal/resolver"
	"github.com/leozw/domain-guardian/internal/scheduler"
	"github.com/leozw/domain-guardian/internal/storage/memory"
	"github.com/leozw/domain-guardian/internal/storage/postgres"
	redisstore "github.com/leozw/domain-guardian/internal/storage/redis"
)

// Store is everything the engine needs from persistence.
type Store interface {
	scheduler.DomainStore
	monitoring.LogStore
	alerts.SettingsSource
	alerts.DispatchStore
	handlers.DomainLister
}

type App struct {
	Config    *config.Config
	Store     Store
	Scheduler *scheduler.Scheduler
	Metrics   *metrics.Collector
	Server    *api.Server
	Queue     *queue.RedisQueue

	logger  *zap.Logger
	closers []func() error
}

func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	var pinger handlers.Pinger
	if cfg.Database.URL != "" {
		db, err := postgres.Open(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if cfg.Database.MaxConnections > 0 {
			db.SetMaxOpenConns(cfg.Database.MaxConnections)
		}
		if cfg.Database.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		}
		a.closers = append(a.closers, db.Close)
		a.Store = db
		pinger = db
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		a.Store = memory.New()
	}

	clk := clock.Real{}
	a.Metrics = metrics.NewCollector(cfg.Mimir, logger)

	whois := checks.NewWhoisChecker(checks.WhoisConfig{
		Timeout:   cfg.Probes.WhoisTimeout,
		RateLimit: cfg.Probes.WhoisRateLimit,
		Burst:     cfg.Probes.WhoisBurst,
	}, logger)
	tls := checks.NewSSLChecker(cfg.Probes.TLSTimeout, clk, logger)
	res := resolver.New(whois, tls, resolver.Config{
		TLSPort:       cfg.Probes.TLSPort,
		WhoisCacheTTL: cfg.Probes.WhoisCacheTTL,
		HTTPClient:    &http.Client{Timeout: cfg.Probes.WhoisTimeout},
	}, logger)

	dispatcher := alerts.NewDispatcher(a.Store, a.Store, nil, alerts.Config{
		Timeout: cfg.Alerts.Timeout,
		Source:  cfg.Alerts.Source,
	}, clk, logger).WithObserver(a.Metrics)

	evaluator := monitoring.NewEvaluator(a.Store, dispatcher, clk, logger).WithObserver(a.Metrics)

	a.Scheduler = scheduler.New(a.Store, res, evaluator, scheduler.Config{
		Schedule:        cfg.MonitoringSchedule(),
		CleanupSchedule: cfg.Monitoring.CleanupSchedule,
		BatchSize:       cfg.Monitoring.BatchSize,
		DomainDelay:     cfg.Monitoring.DomainDelay,
		BatchDelay:      cfg.Monitoring.BatchDelay,
		RetentionDays:   cfg.Monitoring.RetentionDays,
	}, clk, logger).WithMetrics(a.Metrics)

	if cfg.Redis.URL != "" {
		client := redisstore.NewClient(cfg.Redis.URL)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			client.Close()
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.Scheduler.WithRunLock(client.NewLock(cfg.Redis.LockKey, cfg.Redis.LockTTL)).WithLastRunStore(client)
		a.Queue = queue.NewRedisQueue(client.Client)
	}

	h := handlers.NewHandler(a.Scheduler, a.Store, pinger, logger)
	if a.Queue != nil {
		h.WithQueue(a.Queue)
	}
	a.Server = api.NewServer(cfg.Server, h, a.Metrics.Handler(), logger)
	return a, nil
}

// ConsumeChecks processes queued check requests until ctx is done. It
// returns immediately when no queue is configured.
func (a *App) ConsumeChecks(ctx context.Context) {
	if a.Queue == nil {
		return
	}
	a.Queue.Consume(ctx, 5*time.Second, func(ctx context.Context, job queue.Job) error {
		_, err := a.Scheduler.CheckDomain(ctx, job.DomainID)
		return err
	}, a.logger)
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Failed to close resource", zap.Error(err))
		}
	}
	a.closers = nil
}
