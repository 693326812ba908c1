package alerts

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/domain-guardian/internal/core"
)

type WebhookPayload struct {
	Timestamp time.Time       `json:"timestamp"`
	Domain    string          `json:"domain"`
	Type      core.LogType    `json:"type"`
	Severity  core.Severity   `json:"severity"`
	Message   string          `json:"message"`
	Details   core.LogDetails `json:"details"`
	Source    string          `json:"source"`
}

func (d *Dispatcher) webhookPayload(entry core.MonitoringLogEntry) WebhookPayload {
	return WebhookPayload{
		Timestamp: d.clock.Now().UTC(),
		Domain:    entry.Domain,
		Type:      entry.LogType,
		Severity:  entry.Severity,
		Message:   entry.Message,
		Details:   entry.Details,
		Source:    d.source,
	}
}

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type SlackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []SlackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments"`
}

func SeverityColor(s core.Severity) string {
	switch s {
	case core.SeverityCritical:
		return "#dc3545"
	case core.SeverityWarning:
		return "#ffc107"
	case core.SeverityError:
		return "#6c757d"
	default:
		return "#17a2b8"
	}
}

func (d *Dispatcher) slackPayload(entry core.MonitoringLogEntry) SlackMessage {
	fields := []SlackField{
		{Title: "Domain", Value: entry.Domain, Short: true},
		{Title: "Type", Value: string(entry.LogType), Short: true},
		{Title: "Severity", Value: strings.ToUpper(string(entry.Severity)), Short: true},
		{Title: "Message", Value: entry.Message, Short: false},
	}
	if exp := entry.Details.Expiry; exp != nil {
		fields = append(fields, SlackField{Title: "Days Until Expiry", Value: strconv.Itoa(exp.DaysUntilExpiry), Short: true})
		if !exp.ExpiryDate.IsZero() {
			fields = append(fields, SlackField{Title: "Expiry Date", Value: exp.ExpiryDate.Format("2006-01-02"), Short: true})
		}
	}

	return SlackMessage{
		Text: fmt.Sprintf("[%s] %s", strings.ToUpper(string(entry.Severity)), entry.Message),
		Attachments: []SlackAttachment{{
			Color:  SeverityColor(entry.Severity),
			Title:  fmt.Sprintf("%s alert for %s", strings.ReplaceAll(string(entry.LogType), "_", " "), entry.Domain),
			Fields: fields,
			Footer: d.source,
			Ts:     d.clock.Now().Unix(),
		}},
	}
}

// LogEmailSender writes the alert to the log instead of sending mail.
type LogEmailSender struct {
	logger *zap.Logger
}

func NewLogEmailSender(logger *zap.Logger) *LogEmailSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEmailSender{logger: logger}
}

func (s *LogEmailSender) Send(_ context.Context, to string, entry core.MonitoringLogEntry) error {
	s.logger.Info("Email alert",
		zap.String("to", to),
		zap.String("subject", fmt.Sprintf("[%s] %s", strings.ToUpper(string(entry.Severity)), entry.Domain)),
		zap.String("body", entry.Message),
	)
	return nil
}
