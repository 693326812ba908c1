package monitoring_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/leozw/domain-guardian/internal/clock"
	"github.com/leozw/domain-guardian/internal/core"
	"github.com/leozw/domain-guardian/internal/monitoring"
	"github.com/leozw/domain-guardian/internal/storage/memory"
)

var now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type recordingDispatcher struct {
	mu       sync.Mutex
	entries  []core.MonitoringLogEntry
	channels core.Channels
}

func (d *recordingDispatcher) Dispatch(_ context.Context, entry core.MonitoringLogEntry) core.Channels {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, entry)
	return d.channels
}

func setup(t *testing.T) (*monitoring.Evaluator, *memory.Store, *recordingDispatcher) {
	store := memory.New()
	disp := &recordingDispatcher{}
	ev := monitoring.NewEvaluator(store, disp, clock.NewFake(now), zaptest.NewLogger(t))
	return ev, store, disp
}

func inDays(d int) *time.Time {
	t := now.Add(time.Duration(d) * 24 * time.Hour)
	return &t
}

func domain() core.Domain {
	return core.Domain{ID: "dom-1", Name: "example.com", SSLStatus: core.SSLStatusValid, IsActive: true}
}

func TestShouldAlertBoundaries(t *testing.T) {
	for _, d := range []int{30, 15, 7, 1, 0, -1, -45} {
		assert.True(t, monitoring.ShouldAlert(d), d)
	}
	for _, d := range []int{31, 29, 16, 14, 8, 6, 2} {
		assert.False(t, monitoring.ShouldAlert(d), d)
	}
}

func TestDaysUntilRoundsUp(t *testing.T) {
	assert.Equal(t, 30, monitoring.DaysUntil(now, now.Add(30*24*time.Hour)))
	assert.Equal(t, 1, monitoring.DaysUntil(now, now.Add(time.Hour)))
	assert.Equal(t, 0, monitoring.DaysUntil(now, now))
	assert.Equal(t, -2, monitoring.DaysUntil(now, now.Add(-48*time.Hour)))
}

func TestEvaluateDomainExpiryThresholds(t *testing.T) {
	tests := []struct {
		days     int
		fires    bool
		severity core.Severity
	}{
		{31, false, ""},
		{30, true, core.SeverityWarning},
		{29, false, ""},
		{15, true, core.SeverityWarning},
		{7, true, core.SeverityCritical},
		{1, true, core.SeverityCritical},
		{0, true, core.SeverityCritical},
		{-3, true, core.SeverityCritical},
	}
	for _, tt := range tests {
		ev, _, disp := setup(t)
		res, err := ev.Evaluate(context.Background(), domain(), core.ResolvedDomainInfo{
			Domain:     "example.com",
			ExpiryDate: inDays(tt.days),
			SSLStatus:  core.SSLStatusUnknown,
		})
		require.NoError(t, err)

		if !tt.fires {
			assert.Empty(t, res.Entries, "days=%d", tt.days)
			assert.Empty(t, disp.entries)
			continue
		}
		require.Len(t, res.Entries, 1, "days=%d", tt.days)
		entry := res.Entries[0]
		assert.Equal(t, core.LogTypeDomainExpiry, entry.LogType)
		assert.Equal(t, tt.severity, entry.Severity, "days=%d", tt.days)
		require.NotNil(t, entry.Details.Expiry)
		assert.Equal(t, tt.days, entry.Details.Expiry.DaysUntilExpiry)
		assert.Len(t, disp.entries, 1)
	}
}

func TestEvaluateSSLExpiryThresholds(t *testing.T) {
	tests := []struct {
		days     int
		fires    bool
		severity core.Severity
	}{
		{31, false, ""},
		{30, true, core.SeverityWarning},
		{29, false, ""},
		{16, false, ""},
		{15, true, core.SeverityWarning},
		{8, false, ""},
		{7, true, core.SeverityCritical},
		{1, true, core.SeverityCritical},
	}
	for _, tt := range tests {
		ev, _, _ := setup(t)
		res, err := ev.Evaluate(context.Background(), domain(), core.ResolvedDomainInfo{
			Domain:        "example.com",
			SSLExpiryDate: inDays(tt.days),
			SSLStatus:     core.SSLStatusValid,
		})
		require.NoError(t, err)

		if !tt.fires {
			assert.Empty(t, res.Entries, "days=%d", tt.days)
			continue
		}
		require.Len(t, res.Entries, 1, "days=%d", tt.days)
		assert.Equal(t, core.LogTypeSSLExpiry, res.Entries[0].LogType)
		assert.Equal(t, tt.severity, res.Entries[0].Severity, "days=%d", tt.days)
	}
}

func TestEvaluateWhoisFailureStillWritesSSLExpiry(t *testing.T) {
	ev, _, _ := setup(t)
	d := domain()
	d.ExpiryDate = inDays(200)
	d.SSLExpiryDate = inDays(3)

	res, err := ev.Evaluate(context.Background(), d, core.ResolvedDomainInfo{
		SSLExpiryDate: inDays(90),
		SSLStatus:     core.SSLStatusValid,
		Errors:        []core.ProbeError{{Source: core.ProbeSourceWhois, Message: "timeout"}},
	})
	require.NoError(t, err)

	assert.True(t, res.Update.PreserveExpiryDate)
	assert.Nil(t, res.Update.ExpiryDate)
	require.NotNil(t, res.Update.SSLExpiryDate)
	assert.Equal(t, *inDays(90), *res.Update.SSLExpiryDate)
	require.NotNil(t, res.Update.LastSSLCheck)
}

func TestEvaluateIsIdempotent(t *testing.T) {
	ev, store, disp := setup(t)
	resolved := core.ResolvedDomainInfo{ExpiryDate: inDays(7), SSLExpiryDate: inDays(15), SSLStatus: core.SSLStatusValid}

	first, err := ev.Evaluate(context.Background(), domain(), resolved)
	require.NoError(t, err)
	assert.Len(t, first.Entries, 2)

	second, err := ev.Evaluate(context.Background(), domain(), resolved)
	require.NoError(t, err)
	assert.Empty(t, second.Entries)
	assert.Len(t, store.Logs(), 2)
	assert.Len(t, disp.entries, 2)
}

func TestEvaluateWhoisFailureUsesStoredExpiry(t *testing.T) {
	ev, _, disp := setup(t)
	d := domain()
	d.ExpiryDate = inDays(7)

	res, err := ev.Evaluate(context.Background(), d, core.ResolvedDomainInfo{
		SSLStatus: core.SSLStatusUnknown,
		Errors:    []core.ProbeError{{Source: core.ProbeSourceWhois, Message: "no expiry date found"}},
	})
	require.NoError(t, err)

	require.Len(t, res.Entries, 2)
	assert.Equal(t, core.LogTypeMonitoringError, res.Entries[0].LogType)
	assert.Equal(t, core.SeverityWarning, res.Entries[0].Severity)
	assert.Equal(t, core.LogTypeDomainExpiry, res.Entries[1].LogType)
	assert.Equal(t, core.SeverityCritical, res.Entries[1].Severity)

	assert.True(t, res.Update.PreserveExpiryDate)
	assert.Nil(t, res.Update.ExpiryDate)
	assert.Len(t, disp.entries, 2)
}

func TestEvaluateTLSErrorIsInfoOnly(t *testing.T) {
	ev, _, disp := setup(t)

	res, err := ev.Evaluate(context.Background(), domain(), core.ResolvedDomainInfo{
		ExpiryDate: inDays(200),
		SSLStatus:  core.SSLStatusUnknown,
		Errors:     []core.ProbeError{{Source: core.ProbeSourceTLS, Message: "SSL connection failed"}},
	})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, core.SeverityInfo, res.Entries[0].Severity)
	assert.Empty(t, disp.entries)
	assert.Nil(t, res.Update.SSLStatus)
	assert.Nil(t, res.Update.LastSSLCheck)
	require.NotNil(t, res.Update.ExpiryDate)
	assert.NotNil(t, res.Update.LastWhoisCheck)
}

func TestEvaluateSSLTransitionToExpired(t *testing.T) {
	ev, _, disp := setup(t)

	resolved := core.ResolvedDomainInfo{
		ExpiryDate:    inDays(300),
		SSLExpiryDate: inDays(-1),
		SSLStatus:     core.SSLStatusExpired,
	}
	res, err := ev.Evaluate(context.Background(), domain(), resolved)
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	entry := res.Entries[0]
	assert.Equal(t, core.LogTypeSSLExpiry, entry.LogType)
	assert.Equal(t, core.SeverityCritical, entry.Severity)
	assert.Equal(t, core.SSLStatusValid, entry.Details.Expiry.PreviousStatus)
	require.NotNil(t, res.Update.SSLStatus)
	assert.Equal(t, core.SSLStatusExpired, *res.Update.SSLStatus)

	// Once the stored status is expired the same day bucket is not logged again.
	d := domain()
	d.SSLStatus = core.SSLStatusExpired
	res, err = ev.Evaluate(context.Background(), d, resolved)
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
	assert.Len(t, disp.entries, 1)
}

func TestEvaluateMarksAlertedChannels(t *testing.T) {
	ev, store, disp := setup(t)
	disp.channels = core.Channels{core.ChannelEmail, core.ChannelSlack}

	res, err := ev.Evaluate(context.Background(), domain(), core.ResolvedDomainInfo{ExpiryDate: inDays(1)})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.True(t, res.Entries[0].AlertSent)

	logs := store.Logs()
	require.Len(t, logs, 1)
	assert.True(t, logs[0].AlertSent)
	assert.Equal(t, core.Channels{core.ChannelEmail, core.ChannelSlack}, logs[0].AlertChannels)
}

func TestEvaluateFailurePreservesExpiry(t *testing.T) {
	ev, store, disp := setup(t)

	res, err := ev.EvaluateFailure(context.Background(), domain(), errors.New("resolver exploded"))
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, core.SeverityError, res.Entries[0].Severity)
	assert.Equal(t, core.LogTypeMonitoringError, res.Entries[0].LogType)
	assert.True(t, res.Update.PreserveExpiryDate)
	assert.True(t, res.Update.IsEmpty())
	assert.Empty(t, disp.entries)
	assert.Len(t, store.Logs(), 1)
}

func TestPurgeOlderThanDefaultsTo90Days(t *testing.T) {
	ev, store, _ := setup(t)
	ctx := context.Background()
	require.NoError(t, store.AppendLog(ctx, &core.MonitoringLogEntry{ID: "a", CreatedAt: now.AddDate(0, 0, -91)}))
	require.NoError(t, store.AppendLog(ctx, &core.MonitoringLogEntry{ID: "b", CreatedAt: now.AddDate(0, 0, -89)}))

	n, err := ev.PurgeOlderThan(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	page, err := ev.QueryLogs(ctx, monitoring.LogFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.Total)
	assert.Equal(t, monitoring.DefaultPageLimit, page.Limit)
}

func TestRecordSummary(t *testing.T) {
	ev, _, disp := setup(t)
	entry, err := ev.RecordSummary(context.Background(), core.SummaryDetails{TotalDomains: 7, Succeeded: 6, Failed: 1})
	require.NoError(t, err)
	assert.Equal(t, core.SeverityInfo, entry.Severity)
	require.NotNil(t, entry.Details.Summary)
	assert.Equal(t, 7, entry.Details.Summary.TotalDomains)
	assert.Empty(t, disp.entries)
}
