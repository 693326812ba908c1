package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/domain-guardian/internal/core"
)

type SweepResult struct {
	TotalDomains int           `json:"total_domains"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	Duration     time.Duration `json:"duration"`
}

// CheckResult is what a single on-demand domain check produced.
type CheckResult struct {
	Resolved core.ResolvedDomainInfo   `json:"resolved"`
	Entries  []core.MonitoringLogEntry `json:"entries"`
	Updated  bool                      `json:"updated"`
}

func (s *Scheduler) sweep(ctx context.Context) (res SweepResult, err error) {
	start := s.clock.Now()
	outcome := "success"
	if s.metrics != nil {
		s.metrics.SweepStarted()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Monitoring sweep panicked", zap.Any("panic", r))
			outcome = "panic"
			err = fmt.Errorf("monitoring sweep panicked: %v", r)
		}
		res.Duration = s.clock.Now().Sub(start)
		if s.metrics != nil {
			s.metrics.SweepFinished(outcome, res.Duration)
		}
	}()

	domains, err := s.store.ListActiveDomains(ctx)
	if err != nil {
		outcome = "error"
		return res, fmt.Errorf("failed to list active domains: %w", err)
	}
	res.TotalDomains = len(domains)

	s.logger.Info("Starting monitoring sweep",
		zap.Int("domains", len(domains)),
		zap.Int("batch_size", s.config.BatchSize),
	)

	for b := 0; b < len(domains); b += s.config.BatchSize {
		if b > 0 {
			if err := s.clock.Sleep(ctx, s.config.BatchDelay); err != nil {
				outcome = "cancelled"
				res.Failed += len(domains) - b
				return res, err
			}
		}
		end := min(b+s.config.BatchSize, len(domains))
		ok := s.runBatch(ctx, domains[b:end])
		res.Succeeded += ok
		res.Failed += end - b - ok
	}
	if res.Failed > 0 {
		outcome = "partial"
	}

	res.Duration = s.clock.Now().Sub(start)
	if _, err := s.evaluator.RecordSummary(ctx, core.SummaryDetails{
		TotalDomains: res.TotalDomains,
		Succeeded:    res.Succeeded,
		Failed:       res.Failed,
		DurationMs:   res.Duration.Milliseconds(),
	}); err != nil {
		s.logger.Error("Failed to record sweep summary", zap.Error(err))
	}

	s.mu.Lock()
	s.lastRun = &start
	s.mu.Unlock()
	if s.lastRuns != nil {
		if err := s.lastRuns.SaveLastRun(ctx, start); err != nil {
			s.logger.Warn("Failed to persist last run", zap.Error(err))
		}
	}

	s.logger.Info("Monitoring sweep completed",
		zap.Int("domains", res.TotalDomains),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// runBatch starts domain i after i*DomainDelay and waits for all of them.
func (s *Scheduler) runBatch(ctx context.Context, batch []core.Domain) int {
	var wg sync.WaitGroup
	results := make([]bool, len(batch))

	for i, d := range batch {
		wg.Add(1)
		go func(i int, d core.Domain) {
			defer wg.Done()
			if err := s.clock.Sleep(ctx, time.Duration(i)*s.config.DomainDelay); err != nil {
				return
			}
			results[i] = s.checkIsolated(ctx, d)
		}(i, d)
	}
	wg.Wait()

	ok := 0
	for _, r := range results {
		if r {
			ok++
		}
	}
	return ok
}

// checkIsolated processes one domain and converts any failure, including a
// panic, into an error log for that domain.
func (s *Scheduler) checkIsolated(ctx context.Context, d core.Domain) (ok bool) {
	defer s.lockDomain(d.ID)()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Domain check panicked",
				zap.String("domain", d.Name),
				zap.Any("panic", r),
			)
			s.recordFailure(ctx, d, fmt.Errorf("panic: %v", r))
			ok = false
		}
	}()

	if _, err := s.process(ctx, d); err != nil {
		s.logger.Error("Domain check failed", zap.String("domain", d.Name), zap.Error(err))
		s.recordFailure(ctx, d, err)
		return false
	}
	return true
}

func (s *Scheduler) recordFailure(ctx context.Context, d core.Domain, cause error) {
	ev, err := s.evaluator.EvaluateFailure(ctx, d, cause)
	if err != nil {
		s.logger.Error("Failed to record domain failure", zap.String("domain", d.Name), zap.Error(err))
		return
	}
	if _, err := s.store.WriteBackDomainUpdate(ctx, d.ID, ev.Update); err != nil {
		s.logger.Error("Failed to write back domain", zap.String("domain", d.Name), zap.Error(err))
	}
}

func (s *Scheduler) process(ctx context.Context, d core.Domain) (CheckResult, error) {
	start := time.Now()

	info := s.resolver.Resolve(ctx, d.Name, s.registrarConfig(ctx, d.Registrar))
	if s.metrics != nil {
		s.metrics.RecordDomainCheck(info, s.clock.Now())
	}

	ev, err := s.evaluator.Evaluate(ctx, d, info)
	if err != nil {
		return CheckResult{Resolved: info}, fmt.Errorf("failed to evaluate: %w", err)
	}

	found, err := s.store.WriteBackDomainUpdate(ctx, d.ID, ev.Update)
	if err != nil {
		return CheckResult{Resolved: info, Entries: ev.Entries}, fmt.Errorf("failed to write back: %w", err)
	}
	if !found {
		s.logger.Warn("Domain disappeared before write-back", zap.String("domain_id", d.ID))
	}

	s.logger.Debug("Domain checked",
		zap.String("domain", d.Name),
		zap.String("status", string(info.Status)),
		zap.String("source", string(info.Source)),
		zap.Int("entries", len(ev.Entries)),
		zap.Duration("duration", time.Since(start)),
	)
	return CheckResult{Resolved: info, Entries: ev.Entries, Updated: found}, nil
}

// registrarConfig returns nil when the registrar is unknown or has no API
// credentials; lookup failures are logged and treated the same way.
func (s *Scheduler) registrarConfig(ctx context.Context, registrar string) *core.RegistrarConfig {
	if registrar == "" || registrar == core.UnknownRegistrar {
		return nil
	}
	cfg, err := s.store.GetRegistrarConfig(ctx, registrar)
	if err != nil {
		s.logger.Warn("Failed to load registrar config",
			zap.String("registrar", registrar),
			zap.Error(err),
		)
		return nil
	}
	return cfg
}

// CheckDomain runs the full check for one stored domain outside any sweep.
func (s *Scheduler) CheckDomain(ctx context.Context, id string) (CheckResult, error) {
	defer s.lockDomain(id)()
	d, err := s.store.GetDomain(ctx, id)
	if err != nil {
		return CheckResult{}, err
	}
	return s.process(ctx, d)
}

// lockDomain serializes evaluation of one domain so a dedup key is checked
// and written by a single caller at a time.
func (s *Scheduler) lockDomain(id string) func() {
	v, _ := s.domainLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// ResolveDomain looks a hostname up without persisting or logging anything.
func (s *Scheduler) ResolveDomain(ctx context.Context, name, registrar string) core.ResolvedDomainInfo {
	return s.resolver.Resolve(ctx, name, s.registrarConfig(ctx, registrar))
}
