// Package scheduler runs monitoring sweeps over all active domains on a cron
// schedule or on demand, and purges old monitoring logs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/leozw/domain-guardian/internal/clock"
	"github.com/leozw/domain-guardian/internal/core"
	"github.com/leozw/domain-guardian/internal/monitoring"
)

var ErrAlreadyRunning = errors.New("monitoring sweep already running")

type DomainStore interface {
	ListActiveDomains(ctx context.Context) ([]core.Domain, error)
	GetDomain(ctx context.Context, id string) (core.Domain, error)
	WriteBackDomainUpdate(ctx context.Context, id string, u core.DomainUpdate) (bool, error)
	GetRegistrarConfig(ctx context.Context, registrar string) (*core.RegistrarConfig, error)
}

type Resolver interface {
	Resolve(ctx context.Context, domain string, regCfg *core.RegistrarConfig) core.ResolvedDomainInfo
}

// RunLock guards sweeps across processes. Satisfied by redis.Lock. The
// holder calls Extend every RenewalInterval while a sweep runs.
type RunLock interface {
	Acquire(ctx context.Context) (string, bool, error)
	Release(ctx context.Context, token string) error
	Extend(ctx context.Context, token string) (bool, error)
	RenewalInterval() time.Duration
}

type LastRunStore interface {
	SaveLastRun(ctx context.Context, at time.Time) error
	LoadLastRun(ctx context.Context) (*time.Time, error)
}

type Metrics interface {
	SweepStarted()
	SweepFinished(result string, d time.Duration)
	RecordDomainCheck(info core.ResolvedDomainInfo, now time.Time)
}

type Config struct {
	Schedule        string
	CleanupSchedule string
	BatchSize       int
	DomainDelay     time.Duration
	BatchDelay      time.Duration
	RetentionDays   int
}

func DefaultConfig() Config {
	return Config{
		Schedule:        "0 9 * * *",
		CleanupSchedule: "0 3 * * 0",
		BatchSize:       5,
		DomainDelay:     2 * time.Second,
		BatchDelay:      10 * time.Second,
		RetentionDays:   monitoring.DefaultRetentionDays,
	}
}

type Status struct {
	IsRunning        bool       `json:"is_running"`
	NextScheduledRun *time.Time `json:"next_scheduled_run"`
	JobsActive       int        `json:"jobs_active"`
}

type Stats struct {
	TotalDomains          int        `json:"total_domains"`
	DomainsExpiring7Days  int        `json:"domains_expiring_7_days"`
	DomainsExpiring30Days int        `json:"domains_expiring_30_days"`
	DomainsExpired        int        `json:"domains_expired"`
	SSLExpiring7Days      int        `json:"ssl_expiring_7_days"`
	SSLExpiring30Days     int        `json:"ssl_expiring_30_days"`
	SSLExpired            int        `json:"ssl_expired"`
	CriticalAlertsLast24h int64      `json:"critical_alerts_last_24h"`
	LastRun               *time.Time `json:"last_run"`
	NextRun               *time.Time `json:"next_run"`
}

type Scheduler struct {
	store     DomainStore
	resolver  Resolver
	evaluator *monitoring.Evaluator
	config    Config
	clock     clock.Clock
	logger    *zap.Logger

	lock     RunLock
	lastRuns LastRunStore
	metrics  Metrics

	cron      *cron.Cron
	monitorID cron.EntryID
	cleanupID cron.EntryID
	started   bool

	running     atomic.Bool
	async       sync.WaitGroup
	domainLocks sync.Map

	// shutdown is cancelled only when Stop gives up waiting for sweeps.
	shutdown      context.Context
	forceShutdown context.CancelFunc

	mu      sync.RWMutex
	lastRun *time.Time
}

func New(store DomainStore, resolver Resolver, evaluator *monitoring.Evaluator, cfg Config, clk clock.Clock, logger *zap.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Schedule == "" {
		cfg.Schedule = def.Schedule
	}
	if cfg.CleanupSchedule == "" {
		cfg.CleanupSchedule = def.CleanupSchedule
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = def.RetentionDays
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "scheduler"))
	shutdown, forceShutdown := context.WithCancel(context.Background())

	return &Scheduler{
		store:         store,
		resolver:      resolver,
		evaluator:     evaluator,
		config:        cfg,
		clock:         clk,
		logger:        logger,
		shutdown:      shutdown,
		forceShutdown: forceShutdown,
		cron: cron.New(
			cron.WithParser(cron.NewParser(
				cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
			)),
			cron.WithChain(cron.Recover(cronLogger{logger.Sugar()})),
		),
	}
}

func (s *Scheduler) WithRunLock(l RunLock) *Scheduler {
	s.lock = l
	return s
}

func (s *Scheduler) WithLastRunStore(l LastRunStore) *Scheduler {
	s.lastRuns = l
	return s
}

func (s *Scheduler) WithMetrics(m Metrics) *Scheduler {
	s.metrics = m
	return s
}

// Start registers the monitoring and cleanup jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	var err error
	s.monitorID, err = s.cron.AddFunc(s.config.Schedule, s.monitoringJob)
	if err != nil {
		return fmt.Errorf("invalid monitoring schedule %q: %w", s.config.Schedule, err)
	}
	s.cleanupID, err = s.cron.AddFunc(s.config.CleanupSchedule, s.cleanupJob)
	if err != nil {
		s.cron.Remove(s.monitorID)
		return fmt.Errorf("invalid cleanup schedule %q: %w", s.config.CleanupSchedule, err)
	}

	s.cron.Start()
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	s.logger.Info("Scheduler started",
		zap.String("schedule", s.config.Schedule),
		zap.String("cleanup_schedule", s.config.CleanupSchedule),
	)
	return nil
}

// Stop halts the cron loop and waits for running jobs and background sweeps.
// If ctx is done first, sweeps still in flight are cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronDone := s.cron.Stop().Done()
	asyncDone := make(chan struct{})
	go func() {
		s.async.Wait()
		close(asyncDone)
	}()

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	for _, done := range []<-chan struct{}{cronDone, asyncDone} {
		select {
		case <-done:
		case <-ctx.Done():
			s.forceShutdown()
			return ctx.Err()
		}
	}
	s.logger.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) monitoringJob() {
	if _, err := s.RunNow(context.Background()); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			s.logger.Info("Skipping scheduled sweep, previous sweep still running")
			return
		}
		s.logger.Error("Scheduled sweep failed", zap.Error(err))
	}
}

func (s *Scheduler) cleanupJob() {
	if _, err := s.PurgeLogsOlderThan(context.Background(), s.config.RetentionDays); err != nil {
		s.logger.Error("Log cleanup failed", zap.Error(err))
	}
}

// begin claims the single-flight flag and, when configured, the distributed
// lock. The returned func releases both.
func (s *Scheduler) begin(ctx context.Context) (func(), error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}

	var token string
	if s.lock != nil {
		tok, ok, err := s.lock.Acquire(ctx)
		switch {
		case err != nil:
			s.logger.Warn("Run lock unavailable, continuing with local guard", zap.Error(err))
		case !ok:
			s.running.Store(false)
			return nil, ErrAlreadyRunning
		default:
			token = tok
		}
	}

	stopRenew := func() {}
	if token != "" {
		stopRenew = s.renewLock(token)
	}

	return func() {
		stopRenew()
		if token != "" {
			if err := s.lock.Release(context.Background(), token); err != nil {
				s.logger.Warn("Failed to release run lock", zap.Error(err))
			}
		}
		s.running.Store(false)
	}, nil
}

// renewLock extends the run lock until the returned func is called.
func (s *Scheduler) renewLock(token string) func() {
	interval := s.lock.RenewalInterval()
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ok, err := s.lock.Extend(context.Background(), token)
				switch {
				case err != nil:
					s.logger.Warn("Failed to extend run lock", zap.Error(err))
				case !ok:
					s.logger.Warn("Run lock lost during sweep")
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// detach returns a context that keeps ctx's values but is only cancelled by
// a forced shutdown. A sweep always attempts every domain once started.
func (s *Scheduler) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(s.shutdown, cancel)
	return bg, func() {
		stop()
		cancel()
	}
}

// RunNow performs a full sweep inline. Cancelling ctx does not interrupt the
// sweep once it has started.
func (s *Scheduler) RunNow(ctx context.Context) (SweepResult, error) {
	release, err := s.begin(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	defer release()
	bg, cancel := s.detach(ctx)
	defer cancel()
	return s.sweep(bg)
}

// RunAsync claims the flag and runs the sweep in the background.
func (s *Scheduler) RunAsync(ctx context.Context) error {
	release, err := s.begin(ctx)
	if err != nil {
		return err
	}
	bg, cancel := s.detach(ctx)
	s.async.Add(1)
	go func() {
		defer s.async.Done()
		defer release()
		defer cancel()
		if _, err := s.sweep(bg); err != nil {
			s.logger.Error("Background sweep failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Status() Status {
	st := Status{IsRunning: s.running.Load()}

	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return st
	}

	st.JobsActive = len(s.cron.Entries())
	if next := s.cron.Entry(s.monitorID).Next; !next.IsZero() {
		st.NextScheduledRun = &next
	}
	return st
}

func (s *Scheduler) LastRun(ctx context.Context) *time.Time {
	s.mu.RLock()
	last := s.lastRun
	s.mu.RUnlock()
	if last != nil || s.lastRuns == nil {
		return last
	}
	stored, err := s.lastRuns.LoadLastRun(ctx)
	if err != nil {
		s.logger.Warn("Failed to load last run", zap.Error(err))
		return nil
	}
	return stored
}

func (s *Scheduler) Stats(ctx context.Context) (Stats, error) {
	domains, err := s.store.ListActiveDomains(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list domains: %w", err)
	}

	now := s.clock.Now()
	st := Stats{TotalDomains: len(domains)}
	for _, d := range domains {
		if d.ExpiryDate != nil {
			bucket(monitoring.DaysUntil(now, *d.ExpiryDate), &st.DomainsExpired, &st.DomainsExpiring7Days, &st.DomainsExpiring30Days)
		}
		if d.SSLExpiryDate != nil {
			bucket(monitoring.DaysUntil(now, *d.SSLExpiryDate), &st.SSLExpired, &st.SSLExpiring7Days, &st.SSLExpiring30Days)
		}
	}

	st.CriticalAlertsLast24h, err = s.evaluator.CriticalSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count critical alerts: %w", err)
	}
	st.LastRun = s.LastRun(ctx)
	st.NextRun = s.Status().NextScheduledRun
	return st, nil
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

// bucket counts 30-day expiries inclusively of 7-day ones.
func bucket(days int, expired, within7, within30 *int) {
	switch {
	case days <= 0:
		*expired++
	case days <= 7:
		*within7++
		*within30++
	case days <= 30:
		*within30++
	}
}

func (s *Scheduler) QueryLogs(ctx context.Context, filter monitoring.LogFilter) (monitoring.LogPage, error) {
	return s.evaluator.QueryLogs(ctx, filter)
}

func (s *Scheduler) PurgeLogsOlderThan(ctx context.Context, days int) (int64, error) {
	return s.evaluator.PurgeOlderThan(ctx, days)
}
