package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leozw/domain-guardian/internal/config"
	"github.com/leozw/domain-guardian/internal/core"
)

func TestCollectorRecordsSweepAndDomainMetrics(t *testing.T) {
	c := NewCollector(config.MimirConfig{}, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expiry := now.AddDate(0, 0, 10)

	c.SweepStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sweepRunning))

	c.RecordDomainCheck(core.ResolvedDomainInfo{
		Domain:     "example.com",
		ExpiryDate: &expiry,
		Status:     core.StatusOnline,
	}, now)
	c.SweepFinished("success", 3*time.Second)

	assert.Equal(t, 0.0, testutil.ToFloat64(c.sweepRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sweepsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.domainChecks.WithLabelValues("Online")))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.domainDaysUntilExpiry.WithLabelValues("example.com")))
	assert.Equal(t, 0, testutil.CollectAndCount(c.sslDaysUntilExpiry))
}

func TestCollectorObservers(t *testing.T) {
	c := NewCollector(config.MimirConfig{}, nil)

	c.ObserveLog(core.MonitoringLogEntry{LogType: core.LogTypeDomainExpiry, Severity: core.SeverityCritical})
	c.ObserveDispatch(core.ChannelWebhook, core.DispatchFailed)
	c.ObserveDispatch(core.ChannelWebhook, core.DispatchFailed)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.logsTotal.WithLabelValues(string(core.LogTypeDomainExpiry), "critical")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.dispatchTotal.WithLabelValues("webhook", string(core.DispatchFailed))))
}

func TestWriteToMimirWithoutURLIsNoop(t *testing.T) {
	c := NewCollector(config.MimirConfig{}, nil)
	require.NoError(t, c.WriteToMimir(context.Background()))
}

func TestWriteToMimirPushesSnappyProtobuf(t *testing.T) {
	var (
		mu      sync.Mutex
		names   = map[string]bool{}
		tenant  string
		auth    string
		batches int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/push", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		data, err := snappy.Decode(nil, body)
		require.NoError(t, err)
		var req prompb.WriteRequest
		require.NoError(t, req.Unmarshal(data))

		mu.Lock()
		defer mu.Unlock()
		batches++
		tenant = r.Header.Get("X-Scope-OrgID")
		auth = r.Header.Get("Authorization")
		for _, ts := range req.Timeseries {
			for _, l := range ts.Labels {
				if l.Name == "__name__" {
					names[l.Value] = true
				}
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewCollector(config.MimirConfig{
		URL:          srv.URL,
		TenantHeader: "X-Scope-OrgID",
		TenantID:     "guardian",
		BatchSize:    2,
		AuthToken:    "tok",
	}, nil)
	c.SweepStarted()
	c.SweepFinished("success", time.Second)

	require.NoError(t, c.WriteToMimir(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, batches, 1)
	assert.Equal(t, "guardian", tenant)
	assert.Equal(t, "Bearer tok", auth)
	assert.True(t, names["guardian_sweeps_total"])
	assert.True(t, names["guardian_sweep_running"])
	assert.True(t, names["guardian_sweep_duration_seconds_bucket"])
	assert.True(t, names["guardian_sweep_duration_seconds_count"])
}

func TestWriteToMimirReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewCollector(config.MimirConfig{URL: srv.URL}, nil)
	c.SweepStarted()

	assert.Error(t, c.WriteToMimir(context.Background()))
}
