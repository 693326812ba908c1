// Package monitoring turns resolved domain data into monitoring log entries,
// decides which of them are alert-worthy and maintains log retention.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/domain-guardian/internal/clock"
	"github.com/leozw/domain-guardian/internal/core"
)

// AlertThresholds are the day counts that trigger an expiry log. Any
// non-positive day count also triggers.
var AlertThresholds = []int{30, 15, 7, 1}

const criticalDays = 7

// Evaluation is the outcome of evaluating one domain.
type Evaluation struct {
	Entries []core.MonitoringLogEntry
	Update  core.DomainUpdate
}

type Evaluator struct {
	store      LogStore
	dispatcher Dispatcher
	observer   Observer
	clock      clock.Clock
	logger     *zap.Logger
}

func NewEvaluator(store LogStore, dispatcher Dispatcher, clk clock.Clock, logger *zap.Logger) *Evaluator {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		store:      store,
		dispatcher: dispatcher,
		clock:      clk,
		logger:     logger.With(zap.String("component", "monitoring")),
	}
}

func (e *Evaluator) WithObserver(o Observer) *Evaluator {
	e.observer = o
	return e
}

// DaysUntil rounds up, so anything expiring later today counts as 1 day and
// anything already past counts as 0 or less.
func DaysUntil(now, expiry time.Time) int {
	return int(math.Ceil(expiry.Sub(now).Hours() / 24))
}

// ShouldAlert reports whether a day count hits an alert threshold.
func ShouldAlert(days int) bool {
	if days <= 0 {
		return true
	}
	for _, t := range AlertThresholds {
		if days == t {
			return true
		}
	}
	return false
}

func severityForDays(days int) core.Severity {
	if days <= criticalDays {
		return core.SeverityCritical
	}
	return core.SeverityWarning
}

func dedupKey(domainID string, logType core.LogType, days int, expiry time.Time) string {
	return fmt.Sprintf("%s|%s|%d|%s", domainID, logType, days, expiry.UTC().Format("2006-01-02"))
}

// candidate is an entry before it is persisted. Entries without a dedup key
// are always written; force writes the entry but still records its key.
type candidate struct {
	entry core.MonitoringLogEntry
	dedup string
	force bool
}

// Evaluate applies the threshold rules to one domain. The returned update
// only carries fields the resolution actually determined.
func (e *Evaluator) Evaluate(ctx context.Context, domain core.Domain, resolved core.ResolvedDomainInfo) (Evaluation, error) {
	now := e.clock.Now()
	var cands []candidate

	if whoisErr, ok := resolved.ErrorFrom(core.ProbeSourceWhois); ok && resolved.ExpiryDate == nil {
		cands = append(cands, errorCandidate(core.SeverityWarning, core.ProbeSourceWhois,
			fmt.Sprintf("WHOIS lookup failed for %s: %s", domain.Name, whoisErr.Message), whoisErr.Message))
	}
	if apiErr, ok := resolved.ErrorFrom(core.ProbeSourceAPI); ok {
		cands = append(cands, errorCandidate(core.SeverityInfo, core.ProbeSourceAPI,
			fmt.Sprintf("Registrar API lookup failed for %s: %s", domain.Name, apiErr.Message), apiErr.Message))
	}
	if tlsErr, ok := resolved.ErrorFrom(core.ProbeSourceTLS); ok {
		cands = append(cands, errorCandidate(core.SeverityInfo, core.ProbeSourceTLS,
			fmt.Sprintf("SSL check failed for %s: %s", domain.Name, tlsErr.Message), tlsErr.Message))
	}

	expiry := resolved.ExpiryDate
	if expiry == nil {
		expiry = domain.ExpiryDate
	}
	if expiry != nil {
		days := DaysUntil(now, *expiry)
		if ShouldAlert(days) {
			cands = append(cands, candidate{
				entry: core.MonitoringLogEntry{
					LogType:  core.LogTypeDomainExpiry,
					Severity: severityForDays(days),
					Message:  expiryMessage("Domain", domain.Name, days, *expiry),
					Details: core.LogDetails{Expiry: &core.ExpiryDetails{
						DaysUntilExpiry: days,
						ExpiryDate:      expiry.UTC(),
						Registrar:       resolved.Registrar,
					}},
				},
				dedup: dedupKey(domain.ID, core.LogTypeDomainExpiry, days, *expiry),
			})
		}
	}

	if c, ok := e.sslCandidate(now, domain, resolved); ok {
		cands = append(cands, c)
	}

	var errs []error
	out := make([]core.MonitoringLogEntry, 0, len(cands))
	for _, c := range cands {
		entry, written, err := e.record(ctx, now, domain, c)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if written {
			out = append(out, entry)
		}
	}

	return Evaluation{Entries: out, Update: buildUpdate(now, resolved)}, errors.Join(errs...)
}

func (e *Evaluator) sslCandidate(now time.Time, domain core.Domain, resolved core.ResolvedDomainInfo) (candidate, bool) {
	sslExpiry := resolved.SSLExpiryDate
	if sslExpiry == nil {
		sslExpiry = domain.SSLExpiryDate
	}
	transition := resolved.SSLStatus == core.SSLStatusExpired && domain.SSLStatus != core.SSLStatusExpired

	var days int
	fires := false
	if sslExpiry != nil {
		days = DaysUntil(now, *sslExpiry)
		fires = ShouldAlert(days)
	}
	if !fires && !transition {
		return candidate{}, false
	}

	c := candidate{entry: core.MonitoringLogEntry{
		LogType:  core.LogTypeSSLExpiry,
		Severity: core.SeverityCritical,
		Details: core.LogDetails{Expiry: &core.ExpiryDetails{
			DaysUntilExpiry: days,
			SSLStatus:       resolved.SSLStatus,
		}},
	}}
	if sslExpiry != nil {
		c.entry.Details.Expiry.ExpiryDate = sslExpiry.UTC()
		c.entry.Message = expiryMessage("SSL certificate for", domain.Name, days, *sslExpiry)
		c.dedup = dedupKey(domain.ID, core.LogTypeSSLExpiry, days, *sslExpiry)
	}
	if transition {
		// A fresh transition to expired is always recorded, even when the
		// same day bucket was already logged.
		c.force = true
		c.entry.Details.Expiry.PreviousStatus = domain.SSLStatus
		c.entry.Message = fmt.Sprintf("SSL certificate for %s has expired", domain.Name)
		return c, true
	}

	c.entry.Severity = severityForDays(days)
	return c, true
}

func errorCandidate(sev core.Severity, src core.ProbeSource, msg, detail string) candidate {
	return candidate{entry: core.MonitoringLogEntry{
		LogType:  core.LogTypeMonitoringError,
		Severity: sev,
		Message:  msg,
		Details:  core.LogDetails{Error: &core.ErrorDetails{Source: src, Error: detail}},
	}}
}

func expiryMessage(subject, name string, days int, expiry time.Time) string {
	date := expiry.UTC().Format("2006-01-02")
	switch {
	case days < 0:
		return fmt.Sprintf("%s %s expired %d days ago (%s)", subject, name, -days, date)
	case days == 0:
		return fmt.Sprintf("%s %s expires today (%s)", subject, name, date)
	case days == 1:
		return fmt.Sprintf("%s %s expires in 1 day (%s)", subject, name, date)
	default:
		return fmt.Sprintf("%s %s expires in %d days (%s)", subject, name, days, date)
	}
}

func buildUpdate(now time.Time, resolved core.ResolvedDomainInfo) core.DomainUpdate {
	var u core.DomainUpdate

	if resolved.Registrar != "" && resolved.Registrar != core.UnknownRegistrar {
		reg := resolved.Registrar
		u.Registrar = &reg
	}
	if resolved.ExpiryDate != nil {
		exp := *resolved.ExpiryDate
		u.ExpiryDate = &exp
	}
	if u.Registrar != nil || u.ExpiryDate != nil {
		u.LastWhoisCheck = &now
	}
	if _, failed := resolved.ErrorFrom(core.ProbeSourceWhois); failed && resolved.ExpiryDate == nil {
		u.PreserveExpiryDate = true
	}

	if resolved.SSLExpiryDate != nil {
		exp := *resolved.SSLExpiryDate
		u.SSLExpiryDate = &exp
	}
	if resolved.SSLStatus == core.SSLStatusValid || resolved.SSLStatus == core.SSLStatusExpired {
		st := resolved.SSLStatus
		u.SSLStatus = &st
		u.LastSSLCheck = &now
	}
	return u
}

// record persists one candidate and dispatches it when alert-worthy.
// written is false when the candidate was a duplicate.
func (e *Evaluator) record(ctx context.Context, now time.Time, domain core.Domain, c candidate) (core.MonitoringLogEntry, bool, error) {
	entry := c.entry
	entry.ID = uuid.New().String()
	entry.DomainID = domain.ID
	entry.Domain = domain.Name
	entry.DedupKey = c.dedup
	entry.CreatedAt = now
	entry.AlertChannels = core.Channels{}

	if c.dedup != "" && !c.force {
		seen, err := e.store.HasDedupKey(ctx, c.dedup)
		if err != nil {
			return entry, false, fmt.Errorf("failed to check dedup key: %w", err)
		}
		if seen {
			e.logger.Debug("Skipping duplicate log",
				zap.String("domain", domain.Name),
				zap.String("dedup_key", c.dedup),
			)
			return entry, false, nil
		}
	}

	if err := e.store.AppendLog(ctx, &entry); err != nil {
		return entry, false, fmt.Errorf("failed to append %s log for %s: %w", entry.LogType, domain.Name, err)
	}
	if e.observer != nil {
		e.observer.ObserveLog(entry)
	}

	if entry.Severity.Alertable() && e.dispatcher != nil {
		channels := e.dispatcher.Dispatch(ctx, entry)
		if len(channels) > 0 {
			entry.AlertSent = true
			entry.AlertChannels = channels
			if err := e.store.MarkAlerted(ctx, entry.ID, channels); err != nil {
				e.logger.Error("Failed to mark log as alerted",
					zap.String("log_id", entry.ID),
					zap.Error(err),
				)
			}
		}
	}

	e.logger.Info("Monitoring log recorded",
		zap.String("domain", domain.Name),
		zap.String("log_type", string(entry.LogType)),
		zap.String("severity", string(entry.Severity)),
		zap.Bool("alert_sent", entry.AlertSent),
	)
	return entry, true, nil
}

// EvaluateFailure records that a domain could not be processed at all.
// Stored expiry data is preserved.
func (e *Evaluator) EvaluateFailure(ctx context.Context, domain core.Domain, cause error) (Evaluation, error) {
	now := e.clock.Now()
	msg := "unknown failure"
	if cause != nil {
		msg = cause.Error()
	}
	c := candidate{entry: core.MonitoringLogEntry{
		LogType:  core.LogTypeMonitoringError,
		Severity: core.SeverityError,
		Message:  fmt.Sprintf("Failed to monitor %s: %s", domain.Name, msg),
		Details:  core.LogDetails{Error: &core.ErrorDetails{Error: msg}},
	}}
	ev := Evaluation{Update: core.DomainUpdate{PreserveExpiryDate: true}}
	entry, written, err := e.record(ctx, now, domain, c)
	if err != nil {
		return ev, err
	}
	if written {
		ev.Entries = append(ev.Entries, entry)
	}
	return ev, nil
}

// RecordSummary writes the informational log that closes a sweep.
func (e *Evaluator) RecordSummary(ctx context.Context, summary core.SummaryDetails) (core.MonitoringLogEntry, error) {
	s := summary
	c := candidate{entry: core.MonitoringLogEntry{
		LogType:  core.LogTypeMonitoringError,
		Severity: core.SeverityInfo,
		Message: fmt.Sprintf("Monitoring sweep completed: %d domains, %d succeeded, %d failed",
			summary.TotalDomains, summary.Succeeded, summary.Failed),
		Details: core.LogDetails{Summary: &s},
	}}
	entry, _, err := e.record(ctx, e.clock.Now(), core.Domain{}, c)
	return entry, err
}

// PurgeOlderThan removes entries older than days (90 when days <= 0).
func (e *Evaluator) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	cutoff := e.clock.Now().Add(-time.Duration(days) * 24 * time.Hour)
	n, err := e.store.PurgeLogsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge logs: %w", err)
	}
	e.logger.Info("Purged monitoring logs", zap.Int("retention_days", days), zap.Int64("removed", n))
	return n, nil
}

func (e *Evaluator) QueryLogs(ctx context.Context, filter LogFilter) (LogPage, error) {
	filter = filter.Normalize()
	page, err := e.store.QueryLogs(ctx, filter)
	if err != nil {
		return LogPage{}, fmt.Errorf("failed to query logs: %w", err)
	}
	page.Page, page.Limit = filter.Page, filter.Limit
	if page.Entries == nil {
		page.Entries = []core.MonitoringLogEntry{}
	}
	return page, nil
}

// CriticalSince counts critical entries written after since.
func (e *Evaluator) CriticalSince(ctx context.Context, since time.Time) (int64, error) {
	return e.store.CountLogsSince(ctx, core.SeverityCritical, since)
}
