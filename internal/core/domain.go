package core

import (
	"errors"
	"time"
)

var ErrDomainNotFound = errors.New("domain not found")

type SSLStatus string

const (
	SSLStatusValid   SSLStatus = "valid"
	SSLStatusExpired SSLStatus = "expired"
	SSLStatusUnknown SSLStatus = "unknown"
)

// UnknownRegistrar is stored when no source could name the registrar.
const UnknownRegistrar = "Unknown"

// Domain is a tracked hostname as owned by the persistence layer.
type Domain struct {
	ID             string     `json:"id" db:"id"`
	Name           string     `json:"name" db:"name"`
	Registrar      string     `json:"registrar" db:"registrar"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty" db:"expiry_date"`
	SSLExpiryDate  *time.Time `json:"ssl_expiry_date,omitempty" db:"ssl_expiry_date"`
	SSLStatus      SSLStatus  `json:"ssl_status" db:"ssl_status"`
	LastWhoisCheck *time.Time `json:"last_whois_check,omitempty" db:"last_whois_check"`
	LastSSLCheck   *time.Time `json:"last_ssl_check,omitempty" db:"last_ssl_check"`
	IsActive       bool       `json:"is_active" db:"is_active"`
}

// DomainUpdate is a partial write-back. Nil fields are left untouched by the store.
type DomainUpdate struct {
	Registrar      *string    `json:"registrar,omitempty"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty"`
	SSLExpiryDate  *time.Time `json:"ssl_expiry_date,omitempty"`
	SSLStatus      *SSLStatus `json:"ssl_status,omitempty"`
	LastWhoisCheck *time.Time `json:"last_whois_check,omitempty"`
	LastSSLCheck   *time.Time `json:"last_ssl_check,omitempty"`

	// PreserveExpiryDate tells the store to keep the previously stored
	// domain expiry even if ExpiryDate is set. SSLExpiryDate is unaffected.
	PreserveExpiryDate bool `json:"preserve_expiry_date"`
}

// IsEmpty reports whether the update carries no field to write.
func (u DomainUpdate) IsEmpty() bool {
	return u.Registrar == nil && u.ExpiryDate == nil && u.SSLExpiryDate == nil &&
		u.SSLStatus == nil && u.LastWhoisCheck == nil && u.LastSSLCheck == nil
}

// RegistrarConfig holds per-registrar API credentials.
type RegistrarConfig struct {
	Registrar     string `json:"registrar" db:"registrar"`
	Provider      string `json:"provider" db:"provider"`
	APIKey        string `json:"-" db:"api_key"`
	APISecret     string `json:"-" db:"api_secret"`
	AccountID     string `json:"account_id" db:"account_id"`
	BaseURL       string `json:"base_url" db:"base_url"`
	ExpiryPath    string `json:"expiry_path" db:"expiry_path"`
	RegistrarPath string `json:"registrar_path" db:"registrar_path"`
}

type NotificationSettings struct {
	EmailEnabled    bool   `json:"email_enabled" db:"email_enabled"`
	EmailRecipient  string `json:"email_recipient" db:"email_recipient"`
	WebhookURL      string `json:"webhook_url" db:"webhook_url"`
	SlackWebhookURL string `json:"slack_webhook_url" db:"slack_webhook_url"`
}
