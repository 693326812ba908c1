package monitoring

import (
	"context"
	"time"

	"github.com/leozw/domain-guardian/internal/core"
)

const (
	DefaultPageLimit     = 50
	MaxPageLimit         = 500
	DefaultRetentionDays = 90
)

// LogStore persists monitoring log entries. Implementations must be safe for
// concurrent appends.
type LogStore interface {
	AppendLog(ctx context.Context, entry *core.MonitoringLogEntry) error
	HasDedupKey(ctx context.Context, key string) (bool, error)
	MarkAlerted(ctx context.Context, logID string, channels core.Channels) error
	QueryLogs(ctx context.Context, filter LogFilter) (LogPage, error)
	PurgeLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountLogsSince(ctx context.Context, severity core.Severity, since time.Time) (int64, error)
}

// Dispatcher delivers an alert-worthy entry and returns the channels that
// accepted it.
type Dispatcher interface {
	Dispatch(ctx context.Context, entry core.MonitoringLogEntry) core.Channels
}

// Observer is notified of every entry written. Used for metrics.
type Observer interface {
	ObserveLog(entry core.MonitoringLogEntry)
}

type LogFilter struct {
	Domain   string        `form:"domain" json:"domain,omitempty"`
	LogType  core.LogType  `form:"log_type" json:"log_type,omitempty"`
	Severity core.Severity `form:"severity" json:"severity,omitempty"`
	Since    *time.Time    `form:"since" time_format:"2006-01-02T15:04:05Z07:00" json:"since,omitempty"`
	Page     int           `form:"page" json:"page"`
	Limit    int           `form:"limit" json:"limit"`
}

// Normalize clamps paging to sane bounds.
func (f LogFilter) Normalize() LogFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	return f
}

func (f LogFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

type LogPage struct {
	Entries []core.MonitoringLogEntry `json:"entries"`
	Total   int64                     `json:"total"`
	Page    int                       `json:"page"`
	Limit   int                       `json:"limit"`
}
