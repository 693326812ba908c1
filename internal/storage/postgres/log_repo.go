package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/leozw/domain-guardian/internal/core"
	"github.com/leozw/domain-guardian/internal/monitoring"
)

func (db *DB) AppendLog(ctx context.Context, entry *core.MonitoringLogEntry) error {
	query := `
        INSERT INTO monitoring_logs (
            id, domain_id, domain, log_type, severity, message,
            details, dedup_key, alert_sent, alert_channels, created_at
        ) VALUES (
            :id, :domain_id, :domain, :log_type, :severity, :message,
            :details, :dedup_key, :alert_sent, :alert_channels, :created_at
        )`
	if _, err := db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("failed to insert monitoring log: %w", err)
	}
	return nil
}

func (db *DB) HasDedupKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM monitoring_logs WHERE dedup_key = $1)`, key)
	if err != nil {
		return false, fmt.Errorf("failed to check dedup key: %w", err)
	}
	return exists, nil
}

func (db *DB) MarkAlerted(ctx context.Context, logID string, channels core.Channels) error {
	_, err := db.ExecContext(ctx,
		`UPDATE monitoring_logs SET alert_sent = $1, alert_channels = $2 WHERE id = $3`,
		len(channels) > 0, channels, logID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark log alerted: %w", err)
	}
	return nil
}

func logWhere(f monitoring.LogFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Domain != "" {
		add("LOWER(domain) = LOWER($%d)", f.Domain)
	}
	if f.LogType != "" {
		add("log_type = $%d", string(f.LogType))
	}
	if f.Severity != "" {
		add("severity = $%d", string(f.Severity))
	}
	if f.Since != nil {
		add("created_at >= $%d", *f.Since)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (db *DB) QueryLogs(ctx context.Context, filter monitoring.LogFilter) (monitoring.LogPage, error) {
	filter = filter.Normalize()
	where, args := logWhere(filter)

	page := monitoring.LogPage{Page: filter.Page, Limit: filter.Limit}
	if err := db.GetContext(ctx, &page.Total, "SELECT COUNT(*) FROM monitoring_logs"+where, args...); err != nil {
		return page, fmt.Errorf("failed to count logs: %w", err)
	}

	query := fmt.Sprintf(`
        SELECT id, domain_id, domain, log_type, severity, message,
               details, dedup_key, alert_sent, alert_channels, created_at
        FROM monitoring_logs%s
        ORDER BY created_at DESC
        LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset())

	if err := db.SelectContext(ctx, &page.Entries, query, args...); err != nil {
		return page, fmt.Errorf("failed to query logs: %w", err)
	}
	return page, nil
}

// PurgeLogsBefore deletes old entries. Their dispatch records go with them.
func (db *DB) PurgeLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM monitoring_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge logs: %w", err)
	}
	return res.RowsAffected()
}

func (db *DB) CountLogsSince(ctx context.Context, severity core.Severity, since time.Time) (int64, error) {
	var n int64
	err := db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM monitoring_logs WHERE severity = $1 AND created_at >= $2`,
		string(severity), since,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to count logs: %w", err)
	}
	return n, nil
}

func (db *DB) AppendDispatch(ctx context.Context, rec *core.AlertDispatchRecord) error {
	query := `
        INSERT INTO alert_dispatches (
            id, log_id, channel, recipient, status, error,
            retry_count, sent_at, created_at
        ) VALUES (
            :id, :log_id, :channel, :recipient, :status, :error,
            :retry_count, :sent_at, :created_at
        )`
	if _, err := db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to insert alert dispatch: %w", err)
	}
	return nil
}
