package checks

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"

	"github.com/leozw/domain-guardian/internal/core"
)

var ErrInvalidDomain = errors.New("invalid domain name")

// WhoisProber and TLSProber are the probe contracts the resolver consumes.
type WhoisProber interface {
	Check(ctx context.Context, domain string) core.ProbeResult
}

type TLSProber interface {
	Check(ctx context.Context, host string, port int) core.ProbeResult
}

// NormalizeDomain reduces user input such as "https://www.Example.com:443/path"
// to the bare lowercase hostname "example.com".
func NormalizeDomain(raw string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndex(d, "@"); i >= 0 {
		d = d[i+1:]
	}
	if host, _, err := net.SplitHostPort(d); err == nil {
		d = host
	}
	d = strings.TrimPrefix(d, "www.")
	d = strings.TrimSuffix(d, ".")

	if d == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
	}
	if _, ok := dns.IsDomainName(d); !ok || !strings.Contains(d, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
	}
	return d, nil
}
