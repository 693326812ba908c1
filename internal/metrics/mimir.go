package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"

	"github.com/leozw/domain-guardian/internal/config"
)

// MimirClient pushes series using the Prometheus remote write protocol.
type MimirClient struct {
	url          string
	tenantHeader string
	tenantID     string
	authToken    string
	client       *http.Client
}

func NewMimirClient(cfg config.MimirConfig) *MimirClient {
	return &MimirClient{
		url:          cfg.URL,
		tenantHeader: cfg.TenantHeader,
		tenantID:     cfg.TenantID,
		authToken:    cfg.AuthToken,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (m *MimirClient) Push(ctx context.Context, series []prompb.TimeSeries) error {
	req := &prompb.WriteRequest{Timeseries: series}
	data, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal write request: %w", err)
	}

	compressed := snappy.Encode(nil, data)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url+"/api/v1/push", bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if m.tenantHeader != "" && m.tenantID != "" {
		httpReq.Header.Set(m.tenantHeader, m.tenantID)
	}
	if m.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+m.authToken)
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("remote write request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("remote write failed: %s", resp.Status)
	}
	return nil
}
