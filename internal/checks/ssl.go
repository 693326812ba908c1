package checks

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/domain-guardian/internal/clock"
	"github.com/leozw/domain-guardian/internal/core"
)

const (
	DefaultTLSPort    = 443
	DefaultTLSTimeout = 10 * time.Second
)

type SSLChecker struct {
	timeout time.Duration
	clock   clock.Clock
	logger  *zap.Logger
}

func NewSSLChecker(timeout time.Duration, clk clock.Clock, logger *zap.Logger) *SSLChecker {
	if timeout <= 0 {
		timeout = DefaultTLSTimeout
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSLChecker{
		timeout: timeout,
		clock:   clk,
		logger:  logger.With(zap.String("component", "tls")),
	}
}

// Check performs a TLS handshake against host:port and reports the leaf
// certificate's expiry. Only notAfter is inspected, so chain verification is
// skipped and self-signed or mis-issued certificates still yield a date.
func (s *SSLChecker) Check(ctx context.Context, host string, port int) (result core.ProbeResult) {
	host = strings.TrimSpace(strings.ToLower(host))
	result = core.ProbeResult{Domain: host, SSLStatus: core.SSLStatusUnknown}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("TLS probe panicked", zap.String("domain", host), zap.Any("panic", r))
			result = core.ProbeResult{Domain: host, SSLStatus: core.SSLStatusUnknown, Error: fmt.Sprintf("tls probe panic: %v", r)}
		}
	}()

	if port <= 0 {
		port = DefaultTLSPort
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: s.timeout},
		Config: &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: true, //nolint:gosec // expiry inspection only
		},
	}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		result.Error = fmt.Sprintf("SSL connection failed: %v", err)
		return result
	}
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		result.Error = "SSL connection failed: not a TLS connection"
		return result
	}

	certs := tlsConn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		result.Error = "no certificate presented"
		return result
	}

	notAfter := certs[0].NotAfter.UTC()
	result.ExpiryDate = &notAfter
	if notAfter.After(s.clock.Now()) {
		result.SSLStatus = core.SSLStatusValid
	} else {
		result.SSLStatus = core.SSLStatusExpired
	}
	return result
}
