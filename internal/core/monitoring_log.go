package core

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type LogType string

const (
	LogTypeDomainExpiry    LogType = "domain_expiry"
	LogTypeSSLExpiry       LogType = "ssl_expiry"
	LogTypeMonitoringError LogType = "monitoring_error"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
)

// Alertable reports whether entries of this severity are handed to the dispatcher.
func (s Severity) Alertable() bool {
	return s == SeverityCritical || s == SeverityWarning
}

type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelWebhook Channel = "webhook"
	ChannelSlack   Channel = "slack"
)

type DispatchStatus string

const (
	DispatchSent   DispatchStatus = "sent"
	DispatchFailed DispatchStatus = "failed"
)

// ExpiryDetails describes a domain_expiry or ssl_expiry entry.
type ExpiryDetails struct {
	DaysUntilExpiry int       `json:"days_until_expiry"`
	ExpiryDate      time.Time `json:"expiry_date"`
	Registrar       string    `json:"registrar,omitempty"`
	SSLStatus       SSLStatus `json:"ssl_status,omitempty"`
	PreviousStatus  SSLStatus `json:"previous_status,omitempty"`
}

// ErrorDetails describes a probe or processing failure.
type ErrorDetails struct {
	Source ProbeSource `json:"source,omitempty"`
	Error  string      `json:"error"`
}

// SummaryDetails describes the outcome of a full sweep.
type SummaryDetails struct {
	TotalDomains int   `json:"total_domains"`
	Succeeded    int   `json:"succeeded"`
	Failed       int   `json:"failed"`
	DurationMs   int64 `json:"duration_ms"`
}

// LogDetails is a tagged union keyed by the entry's LogType. Exactly one
// member is set: Expiry for the expiry types, Error or Summary for
// monitoring_error.
type LogDetails struct {
	Expiry  *ExpiryDetails  `json:"expiry,omitempty"`
	Error   *ErrorDetails   `json:"error,omitempty"`
	Summary *SummaryDetails `json:"summary,omitempty"`
}

func (d LogDetails) Value() (driver.Value, error) {
	return json.Marshal(d)
}

func (d *LogDetails) Scan(value interface{}) error {
	return scanJSON(value, d)
}

type Channels []Channel

func (c Channels) Value() (driver.Value, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c)
}

func (c *Channels) Scan(value interface{}) error {
	if value == nil {
		*c = Channels{}
		return nil
	}
	return scanJSON(value, c)
}

func (c Channels) Contains(ch Channel) bool {
	for _, v := range c {
		if v == ch {
			return true
		}
	}
	return false
}

func scanJSON(value interface{}, dst interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
}

// MonitoringLogEntry is an append-only record of an observation made during a check.
type MonitoringLogEntry struct {
	ID            string     `json:"id" db:"id"`
	DomainID      string     `json:"domain_id" db:"domain_id"`
	Domain        string     `json:"domain" db:"domain"`
	LogType       LogType    `json:"log_type" db:"log_type"`
	Severity      Severity   `json:"severity" db:"severity"`
	Message       string     `json:"message" db:"message"`
	Details       LogDetails `json:"details" db:"details"`
	DedupKey      string     `json:"-" db:"dedup_key"`
	AlertSent     bool       `json:"alert_sent" db:"alert_sent"`
	AlertChannels Channels   `json:"alert_channels" db:"alert_channels"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// AlertDispatchRecord is the audit trail of one delivery attempt on one channel.
type AlertDispatchRecord struct {
	ID        string         `json:"id" db:"id"`
	LogID     string         `json:"log_id" db:"log_id"`
	Channel   Channel        `json:"channel" db:"channel"`
	Recipient string         `json:"recipient" db:"recipient"`
	Status    DispatchStatus `json:"status" db:"status"`
	Error     *string        `json:"error,omitempty" db:"error"`
	// RetryCount is persisted but never incremented; there is no automatic retry.
	RetryCount int        `json:"retry_count" db:"retry_count"`
	SentAt     *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}
