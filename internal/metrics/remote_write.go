package metrics

import (
	"context"
	"fmt"
	"math"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/zap"
)

// StartRemoteWrite pushes the registry to Mimir every FlushInterval until ctx
// is done. It returns immediately when no Mimir URL is configured.
func (c *Collector) StartRemoteWrite(ctx context.Context) {
	if c.mimir == nil {
		return
	}
	interval := c.config.FlushInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.WriteToMimir(ctx); err != nil {
				c.logger.Warn("Remote write failed", zap.Error(err))
			}
		}
	}
}

func (c *Collector) WriteToMimir(ctx context.Context) error {
	if c.mimir == nil {
		return nil
	}
	mfs, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	series := metricsToSeries(mfs, time.Now().UnixMilli())
	if len(series) == 0 {
		return nil
	}

	batch := c.config.BatchSize
	if batch <= 0 {
		batch = 1000
	}
	for i := 0; i < len(series); i += batch {
		end := i + batch
		if end > len(series) {
			end = len(series)
		}
		if err := c.mimir.Push(ctx, series[i:end]); err != nil {
			return fmt.Errorf("failed to send batch: %w", err)
		}
	}
	return nil
}

func metricsToSeries(mfs []*dto.MetricFamily, ts int64) []prompb.TimeSeries {
	var out []prompb.TimeSeries

	for _, mf := range mfs {
		for _, m := range mf.Metric {
			labels := make([]prompb.Label, 0, len(m.Label)+1)
			labels = append(labels, prompb.Label{Name: "__name__", Value: mf.GetName()})
			for _, l := range m.Label {
				labels = append(labels, prompb.Label{Name: l.GetName(), Value: l.GetValue()})
			}

			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out = append(out, series(labels, m.Counter.GetValue(), ts))
			case dto.MetricType_GAUGE:
				out = append(out, series(labels, m.Gauge.GetValue(), ts))
			case dto.MetricType_HISTOGRAM:
				h := m.Histogram
				base := mf.GetName()
				for _, b := range h.Bucket {
					bl := withName(labels, base+"_bucket")
					bl = append(bl, prompb.Label{Name: "le", Value: formatBound(b.GetUpperBound())})
					out = append(out, series(bl, float64(b.GetCumulativeCount()), ts))
				}
				inf := append(withName(labels, base+"_bucket"), prompb.Label{Name: "le", Value: "+Inf"})
				out = append(out,
					series(inf, float64(h.GetSampleCount()), ts),
					series(withName(labels, base+"_sum"), h.GetSampleSum(), ts),
					series(withName(labels, base+"_count"), float64(h.GetSampleCount()), ts),
				)
			}
		}
	}
	return out
}

func series(labels []prompb.Label, v float64, ts int64) prompb.TimeSeries {
	return prompb.TimeSeries{
		Labels:  labels,
		Samples: []prompb.Sample{{Value: v, Timestamp: ts}},
	}
}

// withName copies labels replacing __name__.
func withName(labels []prompb.Label, name string) []prompb.Label {
	out := make([]prompb.Label, len(labels))
	copy(out, labels)
	out[0] = prompb.Label{Name: "__name__", Value: name}
	return out
}

func formatBound(v float64) string {
	if math.IsInf(v, 1) {
		return "+Inf"
	}
	return fmt.Sprintf("%g", v)
}
