// Package registrar queries registrar account APIs for authoritative
// expiry data.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/leozw/domain-guardian/internal/checks"
	"github.com/leozw/domain-guardian/internal/core"
)

const (
	ProviderGoDaddy    = "godaddy"
	ProviderCloudflare = "cloudflare"
	ProviderGeneric    = "generic"

	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

var (
	ErrUnsupportedProvider = errors.New("unsupported registrar provider")
	ErrNoExpiry            = errors.New("registrar response has no expiry date")
)

// Info is what a registrar API can tell us about a domain.
type Info struct {
	ExpiryDate *time.Time
	Registrar  string
}

type Client interface {
	Lookup(ctx context.Context, domain string) (Info, error)
}

// New builds a client for cfg.Provider. A nil httpClient gets a default with
// a 10s timeout.
func New(cfg core.RegistrarConfig, httpClient *http.Client) (Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = strings.ToLower(strings.TrimSpace(cfg.Registrar))
	}

	switch provider {
	case ProviderGoDaddy:
		base := cfg.BaseURL
		if base == "" {
			base = "https://api.godaddy.com"
		}
		return &jsonClient{
			http:          httpClient,
			urlFor:        func(d string) string { return strings.TrimRight(base, "/") + "/v1/domains/" + url.PathEscape(d) },
			authHeader:    "sso-key " + cfg.APIKey + ":" + cfg.APISecret,
			expiryPath:    "expires",
			registrarName: "GoDaddy.com, LLC",
		}, nil
	case ProviderCloudflare:
		if cfg.AccountID == "" {
			return nil, fmt.Errorf("cloudflare registrar config: account id is required")
		}
		base := cfg.BaseURL
		if base == "" {
			base = "https://api.cloudflare.com"
		}
		return &jsonClient{
			http: httpClient,
			urlFor: func(d string) string {
				return strings.TrimRight(base, "/") + "/client/v4/accounts/" + url.PathEscape(cfg.AccountID) +
					"/registrar/domains/" + url.PathEscape(d)
			},
			authHeader:    "Bearer " + cfg.APIKey,
			expiryPath:    "result.expires_at",
			registrarName: "Cloudflare, Inc.",
			successPath:   "success",
		}, nil
	case ProviderGeneric:
		if !strings.Contains(cfg.BaseURL, "{domain}") {
			return nil, fmt.Errorf("generic registrar config: base url must contain {domain}")
		}
		expiryPath := cfg.ExpiryPath
		if expiryPath == "" {
			expiryPath = "expiry_date"
		}
		c := &jsonClient{
			http: httpClient,
			urlFor: func(d string) string {
				return strings.ReplaceAll(cfg.BaseURL, "{domain}", url.PathEscape(d))
			},
			expiryPath:    expiryPath,
			registrarPath: cfg.RegistrarPath,
			registrarName: cfg.Registrar,
		}
		if cfg.APIKey != "" {
			c.authHeader = "Bearer " + cfg.APIKey
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
}

// jsonClient covers every provider whose API answers one GET with a JSON
// document holding the expiry timestamp.
type jsonClient struct {
	http          *http.Client
	urlFor        func(domain string) string
	authHeader    string
	expiryPath    string
	registrarPath string
	registrarName string
	successPath   string
}

func (c *jsonClient) Lookup(ctx context.Context, domain string) (Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.urlFor(domain), nil)
	if err != nil {
		return Info{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Info{}, fmt.Errorf("registrar request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Info{}, fmt.Errorf("failed to read registrar response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Info{}, fmt.Errorf("registrar API returned status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return Info{}, fmt.Errorf("registrar API returned invalid JSON")
	}
	if c.successPath != "" {
		if ok := gjson.GetBytes(body, c.successPath); ok.Exists() && !ok.Bool() {
			return Info{}, fmt.Errorf("registrar API reported failure: %s", gjson.GetBytes(body, "errors.0.message").String())
		}
	}

	info := Info{Registrar: c.registrarName}
	if c.registrarPath != "" {
		if r := gjson.GetBytes(body, c.registrarPath); r.Exists() && r.String() != "" {
			info.Registrar = r.String()
		}
	}

	raw := gjson.GetBytes(body, c.expiryPath)
	if !raw.Exists() || raw.String() == "" {
		return info, ErrNoExpiry
	}
	t, err := checks.ParseWhoisDate(raw.String())
	if err != nil {
		return info, fmt.Errorf("registrar expiry %q: %w", raw.String(), err)
	}
	info.ExpiryDate = &t
	return info, nil
}
