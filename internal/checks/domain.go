package checks

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/leozw/domain-guardian/internal/core"
)

const (
	errNoExpiryFound    = "no expiry date found"
	errUnparsableExpiry = "could not parse expiry date"
)

// Querier performs the raw WHOIS lookup. *whois.Client satisfies it.
type Querier interface {
	Whois(domain string, servers ...string) (string, error)
}

type WhoisConfig struct {
	Timeout   time.Duration
	RateLimit float64 // queries per second
	Burst     int
}

func DefaultWhoisConfig() WhoisConfig {
	return WhoisConfig{
		Timeout:   15 * time.Second,
		RateLimit: 1,
		Burst:     5,
	}
}

type WhoisChecker struct {
	client  Querier
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
}

func NewWhoisChecker(cfg WhoisConfig, logger *zap.Logger) *WhoisChecker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWhoisConfig().Timeout
	}
	client := whois.NewClient()
	client.SetTimeout(cfg.Timeout)
	return NewWhoisCheckerWithQuerier(client, cfg, logger)
}

func NewWhoisCheckerWithQuerier(q Querier, cfg WhoisConfig, logger *zap.Logger) *WhoisChecker {
	def := DefaultWhoisConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WhoisChecker{
		client:  q,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		timeout: cfg.Timeout,
		logger:  logger.With(zap.String("component", "whois")),
	}
}

// Check looks the domain up and extracts its expiry date and registrar.
// Failures are reported in the result's Error field.
func (w *WhoisChecker) Check(ctx context.Context, domain string) (result core.ProbeResult) {
	result.Domain = domain
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("WHOIS probe panicked", zap.String("domain", domain), zap.Any("panic", r))
			result = core.ProbeResult{Domain: domain, Error: fmt.Sprintf("whois probe panic: %v", r)}
		}
	}()

	name, err := NormalizeDomain(domain)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Domain = name

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if err := w.limiter.Wait(ctx); err != nil {
		result.Error = fmt.Sprintf("whois rate limit wait: %v", err)
		return result
	}

	raw, err := w.query(ctx, name)
	if err != nil {
		w.logger.Debug("WHOIS lookup failed", zap.String("domain", name), zap.Error(err))
		result.Error = fmt.Sprintf("whois lookup failed: %v", err)
		return result
	}

	return parseWhois(name, raw)
}

type queryResult struct {
	raw string
	err error
}

// query bounds the lookup by ctx even if the transport ignores its own timeout.
func (w *WhoisChecker) query(ctx context.Context, domain string) (string, error) {
	ch := make(chan queryResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- queryResult{err: fmt.Errorf("whois client panic: %v", r)}
			}
		}()
		raw, err := w.client.Whois(domain)
		ch <- queryResult{raw: raw, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		return res.raw, res.err
	}
}

func labelPattern(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)^[ \t]*` + regexp.QuoteMeta(label) + `[ \t]*:[ \t]*(\S.*?)[ \t\r]*$`)
}

func compileLabels(labels ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(labels))
	for _, l := range labels {
		out = append(out, labelPattern(l))
	}
	return out
}

// Ordered by priority. The first pattern with a match anywhere in the
// response wins, not the first matching line.
var (
	expiryPatterns = compileLabels(
		"Registry Expiry Date",
		"Registrar Registration Expiration Date",
		"Expiration Date",
		"Expiry Date",
		"Expiration Time",
		"paid-till",
		"Expires On",
		"Expire Date",
		"Expires",
		"Expiry",
		"Valid Until",
		"renewal date",
	)
	registrarPatterns = compileLabels(
		"Registrar",
		"Sponsoring Registrar",
		"Registrar Name",
		"Registrar Organization",
	)
)

var whoisDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006.01.02",
	"2006/01/02",
	"02-Jan-2006",
	"02-January-2006",
	"02.01.2006",
	"January 2 2006",
	"Jan 2 2006",
	"Mon Jan 2 15:04:05 MST 2006",
	"Mon Jan _2 2006",
	"20060102",
}

// ParseWhoisDate parses the date formats seen in registry responses and
// truncates the result to its UTC calendar date.
func ParseWhoisDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	candidates := []string{s}
	if fields := strings.Fields(s); len(fields) > 1 {
		candidates = append(candidates, fields[0])
	}
	for _, c := range candidates {
		for _, layout := range whoisDateLayouts {
			if t, err := time.Parse(layout, c); err == nil {
				t = t.UTC()
				return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func firstMatch(patterns []*regexp.Regexp, raw string) (string, bool) {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(raw); m != nil {
			return strings.TrimSpace(m[1]), true
		}
	}
	return "", false
}

func parseWhois(domain, raw string) core.ProbeResult {
	result := core.ProbeResult{Domain: domain}

	if reg, ok := firstMatch(registrarPatterns, raw); ok {
		result.Registrar = reg
	}

	expiryText, found := firstMatch(expiryPatterns, raw)
	if !found {
		// Fall back to the structured parser for registries with unusual layouts.
		if info, err := whoisparser.Parse(raw); err == nil {
			if info.Domain != nil && info.Domain.ExpirationDate != "" {
				expiryText, found = info.Domain.ExpirationDate, true
			}
			if result.Registrar == "" && info.Registrar != nil {
				result.Registrar = strings.TrimSpace(info.Registrar.Name)
			}
		}
	}

	if !found {
		result.Error = errNoExpiryFound
		return result
	}

	t, err := ParseWhoisDate(expiryText)
	if err != nil {
		result.Error = errUnparsableExpiry
		return result
	}
	result.ExpiryDate = &t
	return result
}
