package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leozw/domain-guardian/internal/core"
	"github.com/leozw/domain-guardian/internal/monitoring"
)

func newMock(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return New(sqlx.NewDb(mockDB, "postgres")), mock
}

func TestListActiveDomains(t *testing.T) {
	db, mock := newMock(t)
	expiry := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "name", "registrar", "expiry_date", "ssl_expiry_date", "ssl_status",
		"last_whois_check", "last_ssl_check", "is_active",
	}).
		AddRow("d1", "example.com", "GoDaddy.com, LLC", expiry, nil, "valid", nil, nil, true).
		AddRow("d2", "example.org", "Unknown", nil, nil, "unknown", nil, nil, true)
	mock.ExpectQuery(`SELECT .+ FROM domains\s+WHERE is_active = TRUE`).WillReturnRows(rows)

	domains, err := db.ListActiveDomains(context.Background())
	require.NoError(t, err)
	require.Len(t, domains, 2)
	assert.Equal(t, "example.com", domains[0].Name)
	require.NotNil(t, domains[0].ExpiryDate)
	assert.True(t, expiry.Equal(*domains[0].ExpiryDate))
	assert.Equal(t, core.SSLStatusValid, domains[0].SSLStatus)
	assert.Nil(t, domains[1].ExpiryDate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteBackDomainUpdateSetsOnlyGivenFields(t *testing.T) {
	db, mock := newMock(t)
	reg := "Gandi"
	status := core.SSLStatusExpired

	mock.ExpectExec(`UPDATE domains SET registrar = \$1, ssl_status = \$2, updated_at = \$3 WHERE id = \$4`).
		WithArgs("Gandi", "expired", sqlmock.AnyArg(), "d1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	found, err := db.WriteBackDomainUpdate(context.Background(), "d1", core.DomainUpdate{
		Registrar: &reg,
		SSLStatus: &status,
	})
	require.NoError(t, err)
	assert.True(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteBackDomainUpdatePreservesExpiry(t *testing.T) {
	db, mock := newMock(t)
	expiry := time.Now()
	sslExpiry := expiry.AddDate(0, 3, 0)

	mock.ExpectExec(`UPDATE domains SET ssl_expiry_date = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs(sslExpiry, sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	found, err := db.WriteBackDomainUpdate(context.Background(), "missing", core.DomainUpdate{
		ExpiryDate:         &expiry,
		SSLExpiryDate:      &sslExpiry,
		PreserveExpiryDate: true,
	})
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDomainNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`FROM domains\s+WHERE id = \$1`).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := db.GetDomain(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrDomainNotFound)
}

func TestGetRegistrarConfigMissingIsNil(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`FROM registrar_configs`).WithArgs("Namecheap").WillReturnError(sql.ErrNoRows)

	cfg, err := db.GetRegistrarConfig(context.Background(), "Namecheap")
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestGetNotificationSettings(t *testing.T) {
	db, mock := newMock(t)
	rows := sqlmock.NewRows([]string{"email_enabled", "email_recipient", "webhook_url", "slack_webhook_url"}).
		AddRow(true, "ops@example.com", "", "https://hooks.slack.com/services/x")
	mock.ExpectQuery(`FROM notification_settings`).WillReturnRows(rows)

	s, err := db.GetNotificationSettings(context.Background())
	require.NoError(t, err)
	assert.True(t, s.EmailEnabled)
	assert.Equal(t, "https://hooks.slack.com/services/x", s.SlackWebhookURL)
}

func TestAppendLogAndDedup(t *testing.T) {
	db, mock := newMock(t)
	entry := &core.MonitoringLogEntry{
		ID:        "log-1",
		DomainID:  "d1",
		Domain:    "example.com",
		LogType:   core.LogTypeDomainExpiry,
		Severity:  core.SeverityCritical,
		Message:   "Domain example.com expires in 7 days (2026-03-01)",
		Details:   core.LogDetails{Expiry: &core.ExpiryDetails{DaysUntilExpiry: 7}},
		DedupKey:  "d1|domain_expiry|7|2026-03-01",
		CreatedAt: time.Now(),
	}

	mock.ExpectExec(`INSERT INTO monitoring_logs`).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, db.AppendLog(context.Background(), entry))

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM monitoring_logs WHERE dedup_key = \$1\)`).
		WithArgs(entry.DedupKey).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	seen, err := db.HasDedupKey(context.Background(), entry.DedupKey)
	require.NoError(t, err)
	assert.True(t, seen)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryLogsBuildsFilters(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM monitoring_logs WHERE LOWER\(domain\) = LOWER\(\$1\) AND severity = \$2`).
		WithArgs("example.com", "critical").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	rows := sqlmock.NewRows([]string{
		"id", "domain_id", "domain", "log_type", "severity", "message",
		"details", "dedup_key", "alert_sent", "alert_channels", "created_at",
	}).AddRow("log-1", "d1", "example.com", "domain_expiry", "critical", "msg",
		[]byte(`{"expiry":{"days_until_expiry":1,"expiry_date":"2026-03-01T00:00:00Z"}}`), "k", true,
		[]byte(`["email"]`), time.Now())
	mock.ExpectQuery(`FROM monitoring_logs WHERE .+ ORDER BY created_at DESC\s+LIMIT \$3 OFFSET \$4`).
		WithArgs("example.com", "critical", 2, 2).
		WillReturnRows(rows)

	page, err := db.QueryLogs(context.Background(), monitoring.LogFilter{
		Domain:   "example.com",
		Severity: core.SeverityCritical,
		Page:     2,
		Limit:    2,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, core.Channels{core.ChannelEmail}, page.Entries[0].AlertChannels)
	require.NotNil(t, page.Entries[0].Details.Expiry)
	assert.Equal(t, 1, page.Entries[0].Details.Expiry.DaysUntilExpiry)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeLogsBefore(t *testing.T) {
	db, mock := newMock(t)
	cutoff := time.Now().AddDate(0, 0, -90)
	mock.ExpectExec(`DELETE FROM monitoring_logs WHERE created_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := db.PurgeLogsBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 12, n)
}

func TestAppendDispatch(t *testing.T) {
	db, mock := newMock(t)
	msg := "unexpected status: 500 Internal Server Error"
	mock.ExpectExec(`INSERT INTO alert_dispatches`).WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.AppendDispatch(context.Background(), &core.AlertDispatchRecord{
		ID:        "r1",
		LogID:     "log-1",
		Channel:   core.ChannelWebhook,
		Status:    core.DispatchFailed,
		Error:     &msg,
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
