package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/leozw/domain-guardian/internal/clock"
	"github.com/leozw/domain-guardian/internal/core"
	"github.com/leozw/domain-guardian/internal/storage/memory"
)

func testEntry() core.MonitoringLogEntry {
	return core.MonitoringLogEntry{
		ID:       "log-1",
		Domain:   "example.com",
		LogType:  core.LogTypeDomainExpiry,
		Severity: core.SeverityCritical,
		Message:  "Domain example.com expires in 7 days (2026-03-01)",
		Details: core.LogDetails{Expiry: &core.ExpiryDetails{
			DaysUntilExpiry: 7,
			ExpiryDate:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		}},
	}
}

type failingEmail struct{}

func (failingEmail) Send(context.Context, string, core.MonitoringLogEntry) error {
	return errors.New("smtp unavailable")
}

func TestDispatchIsolatesFailingChannel(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer webhook.Close()

	var slackMsg SlackMessage
	slack := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&slackMsg))
		w.WriteHeader(http.StatusOK)
	}))
	defer slack.Close()

	store := memory.New()
	store.SetNotificationSettings(core.NotificationSettings{
		EmailEnabled:    true,
		EmailRecipient:  "ops@example.com",
		WebhookURL:      webhook.URL + "/hook/secret-token",
		SlackWebhookURL: slack.URL,
	})
	d := NewDispatcher(store, store, nil, Config{}, nil, zaptest.NewLogger(t))

	channels := d.Dispatch(context.Background(), testEntry())
	assert.Equal(t, core.Channels{core.ChannelEmail, core.ChannelSlack}, channels)

	recs := store.Dispatches()
	require.Len(t, recs, 3)
	assert.Equal(t, core.ChannelEmail, recs[0].Channel)
	assert.Equal(t, core.DispatchSent, recs[0].Status)
	assert.Equal(t, core.ChannelWebhook, recs[1].Channel)
	assert.Equal(t, core.DispatchFailed, recs[1].Status)
	require.NotNil(t, recs[1].Error)
	assert.Contains(t, *recs[1].Error, "500")
	assert.NotContains(t, recs[1].Recipient, "secret-token")
	assert.Nil(t, recs[1].SentAt)
	assert.Equal(t, core.DispatchSent, recs[2].Status)
	assert.NotNil(t, recs[2].SentAt)
	for _, r := range recs {
		assert.Equal(t, "log-1", r.LogID)
		assert.Zero(t, r.RetryCount)
	}

	require.Len(t, slackMsg.Attachments, 1)
	assert.Equal(t, "#dc3545", slackMsg.Attachments[0].Color)
	titles := map[string]string{}
	for _, f := range slackMsg.Attachments[0].Fields {
		titles[f.Title] = f.Value
	}
	assert.Equal(t, "example.com", titles["Domain"])
	assert.Equal(t, "7", titles["Days Until Expiry"])
	assert.Equal(t, "2026-03-01", titles["Expiry Date"])
}

func TestDispatchChannelIsolation(t *testing.T) {
	tests := []struct {
		name       string
		webhookOK  bool
		slackOK    bool
		want       core.Channels
		wantStatus []core.DispatchStatus
	}{
		{"slack fails", true, false, core.Channels{core.ChannelWebhook}, []core.DispatchStatus{core.DispatchSent, core.DispatchFailed}},
		{"webhook fails", false, true, core.Channels{core.ChannelSlack}, []core.DispatchStatus{core.DispatchFailed, core.DispatchSent}},
		{"both fail", false, false, core.Channels{}, []core.DispatchStatus{core.DispatchFailed, core.DispatchFailed}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			respond := func(ok bool) *httptest.Server {
				return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					if ok {
						w.WriteHeader(http.StatusOK)
						return
					}
					w.WriteHeader(http.StatusBadGateway)
				}))
			}
			webhook := respond(tt.webhookOK)
			defer webhook.Close()
			slack := respond(tt.slackOK)
			defer slack.Close()

			store := memory.New()
			store.SetNotificationSettings(core.NotificationSettings{
				WebhookURL:      webhook.URL,
				SlackWebhookURL: slack.URL,
			})
			d := NewDispatcher(store, store, nil, Config{}, nil, zaptest.NewLogger(t))

			assert.Equal(t, tt.want, d.Dispatch(context.Background(), testEntry()))
			recs := store.Dispatches()
			require.Len(t, recs, 2)
			assert.Equal(t, core.ChannelWebhook, recs[0].Channel)
			assert.Equal(t, core.ChannelSlack, recs[1].Channel)
			assert.Equal(t, tt.wantStatus, []core.DispatchStatus{recs[0].Status, recs[1].Status})
		})
	}
}

func TestDispatchEmailToggleAloneEnablesChannel(t *testing.T) {
	store := memory.New()
	store.SetNotificationSettings(core.NotificationSettings{EmailEnabled: true})
	d := NewDispatcher(store, store, nil, Config{}, nil, zaptest.NewLogger(t))

	assert.Equal(t, core.Channels{core.ChannelEmail}, d.Dispatch(context.Background(), testEntry()))
	recs := store.Dispatches()
	require.Len(t, recs, 1)
	assert.Equal(t, core.ChannelEmail, recs[0].Channel)
	assert.Equal(t, core.DispatchSent, recs[0].Status)
	assert.Empty(t, recs[0].Recipient)
}

func TestDispatchWebhookPayload(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	store := memory.New()
	store.SetNotificationSettings(core.NotificationSettings{WebhookURL: srv.URL})
	fake := clock.NewFake(time.Date(2026, 2, 22, 9, 0, 0, 0, time.UTC))
	d := NewDispatcher(store, store, nil, Config{}, fake, nil)

	channels := d.Dispatch(context.Background(), testEntry())
	assert.Equal(t, core.Channels{core.ChannelWebhook}, channels)

	for _, key := range []string{"timestamp", "domain", "type", "severity", "message", "details", "source"} {
		assert.Contains(t, got, key)
	}
	assert.Equal(t, "domain_expiry", got["type"])
	assert.Equal(t, "critical", got["severity"])
	assert.Equal(t, DefaultSource, got["source"])
	assert.Equal(t, "2026-02-22T09:00:00Z", got["timestamp"])
}

func TestDispatchTimeoutCountsAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	store := memory.New()
	store.SetNotificationSettings(core.NotificationSettings{SlackWebhookURL: srv.URL})
	d := NewDispatcher(store, store, nil, Config{Timeout: 20 * time.Millisecond}, nil, nil)

	assert.Empty(t, d.Dispatch(context.Background(), testEntry()))
	recs := store.Dispatches()
	require.Len(t, recs, 1)
	assert.Equal(t, core.DispatchFailed, recs[0].Status)
}

func TestDispatchEmailSenderFailure(t *testing.T) {
	store := memory.New()
	store.SetNotificationSettings(core.NotificationSettings{EmailEnabled: true, EmailRecipient: "ops@example.com"})
	d := NewDispatcher(store, store, failingEmail{}, Config{}, nil, nil)

	assert.Empty(t, d.Dispatch(context.Background(), testEntry()))
	recs := store.Dispatches()
	require.Len(t, recs, 1)
	assert.Equal(t, core.DispatchFailed, recs[0].Status)
	assert.Equal(t, "ops@example.com", recs[0].Recipient)
}

func TestDispatchNoChannelsEnabled(t *testing.T) {
	store := memory.New()
	store.SetNotificationSettings(core.NotificationSettings{EmailEnabled: false, EmailRecipient: "ops@example.com"})
	d := NewDispatcher(store, store, nil, Config{}, nil, nil)

	assert.Empty(t, d.Dispatch(context.Background(), testEntry()))
	assert.Empty(t, store.Dispatches())
}

func TestSeverityColor(t *testing.T) {
	assert.Equal(t, "#dc3545", SeverityColor(core.SeverityCritical))
	assert.Equal(t, "#ffc107", SeverityColor(core.SeverityWarning))
	assert.Equal(t, "#17a2b8", SeverityColor(core.SeverityInfo))
}
