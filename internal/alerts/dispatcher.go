// Package alerts delivers alert-worthy monitoring log entries to email,
// generic webhooks and Slack.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/domain-guardian/internal/clock"
	"github.com/leozw/domain-guardian/internal/core"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultSource  = "domain-guardian"
)

type SettingsSource interface {
	GetNotificationSettings(ctx context.Context) (core.NotificationSettings, error)
}

type DispatchStore interface {
	AppendDispatch(ctx context.Context, rec *core.AlertDispatchRecord) error
}

// EmailSender hands an alert to a mail transport.
type EmailSender interface {
	Send(ctx context.Context, to string, entry core.MonitoringLogEntry) error
}

// Observer is told about every delivery attempt.
type Observer interface {
	ObserveDispatch(channel core.Channel, status core.DispatchStatus)
}

type Config struct {
	Timeout time.Duration
	Source  string
}

type Dispatcher struct {
	settings SettingsSource
	store    DispatchStore
	email    EmailSender
	observer Observer
	client   *http.Client
	source   string
	clock    clock.Clock
	logger   *zap.Logger
}

func NewDispatcher(settings SettingsSource, store DispatchStore, email EmailSender, cfg Config, clk clock.Clock, logger *zap.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Source == "" {
		cfg.Source = DefaultSource
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "alerts"))
	if email == nil {
		email = NewLogEmailSender(logger)
	}
	return &Dispatcher{
		settings: settings,
		store:    store,
		email:    email,
		client:   &http.Client{Timeout: cfg.Timeout},
		source:   cfg.Source,
		clock:    clk,
		logger:   logger,
	}
}

func (d *Dispatcher) WithObserver(o Observer) *Dispatcher {
	d.observer = o
	return d
}

type attempt struct {
	channel   core.Channel
	recipient string
	send      func(ctx context.Context) error
}

// Dispatch tries every enabled channel independently and returns the ones
// that succeeded. A failing channel never prevents the others.
func (d *Dispatcher) Dispatch(ctx context.Context, entry core.MonitoringLogEntry) core.Channels {
	settings, err := d.settings.GetNotificationSettings(ctx)
	if err != nil {
		d.logger.Error("Failed to load notification settings", zap.String("log_id", entry.ID), zap.Error(err))
		return core.Channels{}
	}

	succeeded := core.Channels{}
	for _, a := range d.attempts(settings, entry) {
		sendErr := d.safeSend(ctx, a)
		rec := d.record(ctx, entry, a, sendErr)
		if rec.Status == core.DispatchSent {
			succeeded = append(succeeded, a.channel)
		}
	}
	return succeeded
}

// attempts lists enabled channels in a fixed order: email, webhook, slack.
func (d *Dispatcher) attempts(s core.NotificationSettings, entry core.MonitoringLogEntry) []attempt {
	var out []attempt
	if s.EmailEnabled {
		to := s.EmailRecipient
		out = append(out, attempt{
			channel:   core.ChannelEmail,
			recipient: to,
			send:      func(ctx context.Context) error { return d.email.Send(ctx, to, entry) },
		})
	}
	if s.WebhookURL != "" {
		u := s.WebhookURL
		out = append(out, attempt{
			channel:   core.ChannelWebhook,
			recipient: redactURL(u),
			send:      func(ctx context.Context) error { return d.postJSON(ctx, u, d.webhookPayload(entry)) },
		})
	}
	if s.SlackWebhookURL != "" {
		u := s.SlackWebhookURL
		out = append(out, attempt{
			channel:   core.ChannelSlack,
			recipient: redactURL(u),
			send:      func(ctx context.Context) error { return d.postJSON(ctx, u, d.slackPayload(entry)) },
		})
	}
	return out
}

func (d *Dispatcher) safeSend(ctx context.Context, a attempt) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s sender panic: %v", a.channel, r)
		}
	}()
	return a.send(ctx)
}

func (d *Dispatcher) record(ctx context.Context, entry core.MonitoringLogEntry, a attempt, sendErr error) core.AlertDispatchRecord {
	now := d.clock.Now()
	rec := core.AlertDispatchRecord{
		ID:        uuid.New().String(),
		LogID:     entry.ID,
		Channel:   a.channel,
		Recipient: a.recipient,
		Status:    core.DispatchSent,
		CreatedAt: now,
	}
	if sendErr != nil {
		msg := sendErr.Error()
		rec.Status = core.DispatchFailed
		rec.Error = &msg
		d.logger.Warn("Alert delivery failed",
			zap.String("channel", string(a.channel)),
			zap.String("domain", entry.Domain),
			zap.String("log_id", entry.ID),
			zap.Error(sendErr),
		)
	} else {
		rec.SentAt = &now
		d.logger.Info("Alert delivered",
			zap.String("channel", string(a.channel)),
			zap.String("domain", entry.Domain),
			zap.String("severity", string(entry.Severity)),
		)
	}

	if d.store != nil {
		if err := d.store.AppendDispatch(ctx, &rec); err != nil {
			d.logger.Error("Failed to record alert dispatch", zap.String("log_id", entry.ID), zap.Error(err))
		}
	}
	if d.observer != nil {
		d.observer.ObserveDispatch(a.channel, rec.Status)
	}
	return rec
}

func (d *Dispatcher) postJSON(ctx context.Context, target string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.source)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return nil
}

// redactURL keeps only scheme and host so webhook secrets embedded in the
// path never reach the audit trail.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "invalid-url"
	}
	return u.Scheme + "://" + u.Host
}
