package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leozw/domain-guardian/internal/config"
	"github.com/leozw/domain-guardian/internal/core"
)

type Collector struct {
	config   config.MimirConfig
	registry *prometheus.Registry
	mimir    *MimirClient
	logger   *zap.Logger

	sweepsTotal   *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	sweepRunning  prometheus.Gauge

	domainChecks          *prometheus.CounterVec
	domainDaysUntilExpiry *prometheus.GaugeVec
	sslDaysUntilExpiry    *prometheus.GaugeVec

	logsTotal     *prometheus.CounterVec
	dispatchTotal *prometheus.CounterVec
}

func NewCollector(cfg config.MimirConfig, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		config:   cfg,
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),

		sweepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_sweeps_total",
				Help: "Monitoring sweeps by result",
			},
			[]string{"result"},
		),
		sweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "guardian_sweep_duration_seconds",
				Help:    "Duration of full monitoring sweeps",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),
		sweepRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "guardian_sweep_running",
				Help: "Whether a monitoring sweep is in progress (1) or not (0)",
			},
		),
		domainChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_domain_checks_total",
				Help: "Domain checks by resolution status",
			},
			[]string{"status"},
		),
		domainDaysUntilExpiry: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "guardian_domain_days_until_expiry",
				Help: "Days until domain registration expires",
			},
			[]string{"domain"},
		),
		sslDaysUntilExpiry: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "guardian_ssl_days_until_expiry",
				Help: "Days until the TLS certificate expires",
			},
			[]string{"domain"},
		),
		logsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_monitoring_logs_total",
				Help: "Monitoring log entries written",
			},
			[]string{"log_type", "severity"},
		),
		dispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_alert_dispatch_total",
				Help: "Alert delivery attempts by channel and outcome",
			},
			[]string{"channel", "status"},
		),
	}

	if cfg.URL != "" {
		c.mimir = NewMimirClient(cfg)
	}
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) SweepStarted() {
	c.sweepRunning.Set(1)
}

func (c *Collector) SweepFinished(result string, d time.Duration) {
	c.sweepRunning.Set(0)
	c.sweepsTotal.WithLabelValues(result).Inc()
	c.sweepDuration.Observe(d.Seconds())
}

func (c *Collector) RecordDomainCheck(info core.ResolvedDomainInfo, now time.Time) {
	c.domainChecks.WithLabelValues(string(info.Status)).Inc()
	if info.ExpiryDate != nil {
		c.domainDaysUntilExpiry.WithLabelValues(info.Domain).Set(info.ExpiryDate.Sub(now).Hours() / 24)
	}
	if info.SSLExpiryDate != nil {
		c.sslDaysUntilExpiry.WithLabelValues(info.Domain).Set(info.SSLExpiryDate.Sub(now).Hours() / 24)
	}
}

func (c *Collector) ObserveLog(entry core.MonitoringLogEntry) {
	c.logsTotal.WithLabelValues(string(entry.LogType), string(entry.Severity)).Inc()
}

func (c *Collector) ObserveDispatch(channel core.Channel, status core.DispatchStatus) {
	c.dispatchTotal.WithLabelValues(string(channel), string(status)).Inc()
}
