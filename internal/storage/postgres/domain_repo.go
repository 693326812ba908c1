package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leozw/domain-guardian/internal/core"
)

const domainColumns = `id, name, registrar, expiry_date, ssl_expiry_date, ssl_status,
               last_whois_check, last_ssl_check, is_active`

func (db *DB) ListActiveDomains(ctx context.Context) ([]core.Domain, error) {
	query := `
        SELECT ` + domainColumns + `
        FROM domains
        WHERE is_active = TRUE
        ORDER BY name
    `
	var domains []core.Domain
	if err := db.SelectContext(ctx, &domains, query); err != nil {
		return nil, fmt.Errorf("failed to list active domains: %w", err)
	}
	return domains, nil
}

func (db *DB) ListDomains(ctx context.Context) ([]core.Domain, error) {
	query := `
        SELECT ` + domainColumns + `
        FROM domains
        ORDER BY name
    `
	var domains []core.Domain
	if err := db.SelectContext(ctx, &domains, query); err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}
	return domains, nil
}

func (db *DB) GetDomain(ctx context.Context, id string) (core.Domain, error) {
	query := `
        SELECT ` + domainColumns + `
        FROM domains
        WHERE id = $1
    `
	var d core.Domain
	err := db.GetContext(ctx, &d, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Domain{}, ErrDomainNotFound
	}
	if err != nil {
		return core.Domain{}, fmt.Errorf("failed to get domain: %w", err)
	}
	return d, nil
}

// WriteBackDomainUpdate sets only the non-nil fields of u. It reports false
// when no domain has the given id.
func (db *DB) WriteBackDomainUpdate(ctx context.Context, id string, u core.DomainUpdate) (bool, error) {
	var (
		sets []string
		args []interface{}
	)
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if u.Registrar != nil {
		add("registrar", *u.Registrar)
	}
	if u.ExpiryDate != nil && !u.PreserveExpiryDate {
		add("expiry_date", *u.ExpiryDate)
	}
	if u.SSLExpiryDate != nil {
		add("ssl_expiry_date", *u.SSLExpiryDate)
	}
	if u.SSLStatus != nil {
		add("ssl_status", string(*u.SSLStatus))
	}
	if u.LastWhoisCheck != nil {
		add("last_whois_check", *u.LastWhoisCheck)
	}
	if u.LastSSLCheck != nil {
		add("last_ssl_check", *u.LastSSLCheck)
	}
	add("updated_at", time.Now().UTC())

	args = append(args, id)
	query := fmt.Sprintf("UPDATE domains SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update domain %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// GetRegistrarConfig returns nil without error when the registrar has no API
// credentials configured.
func (db *DB) GetRegistrarConfig(ctx context.Context, name string) (*core.RegistrarConfig, error) {
	query := `
        SELECT registrar, provider, api_key, api_secret, account_id,
               base_url, expiry_path, registrar_path
        FROM registrar_configs
        WHERE LOWER(registrar) = LOWER($1)
    `
	var cfg core.RegistrarConfig
	err := db.GetContext(ctx, &cfg, query, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get registrar config: %w", err)
	}
	return &cfg, nil
}

func (db *DB) GetNotificationSettings(ctx context.Context) (core.NotificationSettings, error) {
	query := `
        SELECT email_enabled, email_recipient, webhook_url, slack_webhook_url
        FROM notification_settings
        ORDER BY id
        LIMIT 1
    `
	var s core.NotificationSettings
	err := db.GetContext(ctx, &s, query)
	if errors.Is(err, sql.ErrNoRows) {
		return core.NotificationSettings{}, nil
	}
	if err != nil {
		return core.NotificationSettings{}, fmt.Errorf("failed to get notification settings: %w", err)
	}
	return s, nil
}
