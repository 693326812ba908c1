// Package resolver reconciles registrar API, WHOIS and TLS answers into a
// single ResolvedDomainInfo.
package resolver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/leozw/domain-guardian/internal/checks"
	"github.com/leozw/domain-guardian/internal/core"
	"github.com/leozw/domain-guardian/internal/registrar"
)

type Config struct {
	TLSPort       int
	WhoisCacheTTL time.Duration
	HTTPClient    *http.Client
}

func DefaultConfig() Config {
	return Config{
		TLSPort:       checks.DefaultTLSPort,
		WhoisCacheTTL: 10 * time.Minute,
	}
}

// RegistrarFactory builds an API client for a registrar config.
type RegistrarFactory func(cfg core.RegistrarConfig) (registrar.Client, error)

type Resolver struct {
	whois      checks.WhoisProber
	tls        checks.TLSProber
	registrars RegistrarFactory
	whoisCache *cache.Cache
	tlsPort    int
	logger     *zap.Logger
}

func New(whois checks.WhoisProber, tls checks.TLSProber, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.TLSPort <= 0 {
		cfg.TLSPort = checks.DefaultTLSPort
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := cfg.HTTPClient
	r := &Resolver{
		whois: whois,
		tls:   tls,
		registrars: func(rc core.RegistrarConfig) (registrar.Client, error) {
			return registrar.New(rc, httpClient)
		},
		tlsPort: cfg.TLSPort,
		logger:  logger.With(zap.String("component", "resolver")),
	}
	if cfg.WhoisCacheTTL > 0 {
		r.whoisCache = cache.New(cfg.WhoisCacheTTL, 2*cfg.WhoisCacheTTL)
	}
	return r
}

// WithRegistrarFactory replaces how registrar API clients are built.
func (r *Resolver) WithRegistrarFactory(f RegistrarFactory) *Resolver {
	r.registrars = f
	return r
}

// contribution is what one stage learned about the domain.
type contribution struct {
	expiry    *time.Time
	registrar string
	err       *core.ProbeError
}

// stage is one source in priority order. needed decides whether the stage
// still has anything to add.
type stage struct {
	source core.Source
	probe  core.ProbeSource
	needed func(acc *accumulator) bool
	run    func(ctx context.Context, domain string) contribution
}

type accumulator struct {
	expiry    *time.Time
	registrar string
	source    core.Source
	errors    []core.ProbeError
}

// fillIfAbsent sets *dst to v only when *dst is still the zero value and v
// is not. Earlier stages therefore always win.
func fillIfAbsent[T comparable](dst *T, v T) bool {
	var zero T
	if *dst != zero || v == zero {
		return false
	}
	*dst = v
	return true
}

func (a *accumulator) apply(s stage, c contribution) {
	if c.err != nil {
		a.errors = append(a.errors, *c.err)
	}
	filledExpiry := fillIfAbsent(&a.expiry, c.expiry)
	filledRegistrar := fillIfAbsent(&a.registrar, c.registrar)
	if filledExpiry || filledRegistrar {
		fillIfAbsent(&a.source, s.source)
	}
}

// Resolve never returns an error. Probe failures are collected in
// ResolvedDomainInfo.Errors and reflected in Status.
func (r *Resolver) Resolve(ctx context.Context, domain string, regCfg *core.RegistrarConfig) core.ResolvedDomainInfo {
	info := core.ResolvedDomainInfo{
		Domain:    domain,
		Registrar: core.UnknownRegistrar,
		SSLStatus: core.SSLStatusUnknown,
		Status:    core.StatusUnknown,
		Source:    core.SourceUnknown,
	}

	name, err := checks.NormalizeDomain(domain)
	if err != nil {
		info.Errors = []core.ProbeError{{Source: core.ProbeSourceWhois, Message: err.Error()}}
		info.Status = core.StatusError
		return info
	}
	info.Domain = name

	var (
		wg       sync.WaitGroup
		tlsProbe core.ProbeResult
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		tlsProbe = r.runTLS(ctx, name)
	}()

	acc := &accumulator{}
	for _, s := range r.stages(regCfg) {
		if !s.needed(acc) {
			continue
		}
		acc.apply(s, r.safeRun(ctx, s, name))
	}

	wg.Wait()

	info.ExpiryDate = acc.expiry
	info.Errors = acc.errors
	if acc.source != "" {
		info.Source = acc.source
	}
	if reg := NormalizeRegistrar(acc.registrar); reg != "" {
		info.Registrar = reg
	}

	if tlsProbe.ExpiryDate != nil {
		info.SSLExpiryDate = tlsProbe.ExpiryDate
	}
	if tlsProbe.SSLStatus != "" {
		info.SSLStatus = tlsProbe.SSLStatus
	}
	if tlsProbe.HasError() {
		info.Errors = append(info.Errors, core.ProbeError{Source: core.ProbeSourceTLS, Message: tlsProbe.Error})
	}

	switch {
	case info.HasData():
		info.Status = core.StatusOnline
	case len(info.Errors) > 0:
		info.Status = core.StatusError
	default:
		info.Status = core.StatusUnknown
	}

	r.logger.Debug("Domain resolved",
		zap.String("domain", name),
		zap.String("status", string(info.Status)),
		zap.String("source", string(info.Source)),
		zap.Int("errors", len(info.Errors)),
	)
	return info
}

func (r *Resolver) stages(regCfg *core.RegistrarConfig) []stage {
	var out []stage
	if regCfg != nil {
		cfg := *regCfg
		out = append(out, stage{
			source: core.SourceAPI,
			probe:  core.ProbeSourceAPI,
			needed: func(*accumulator) bool { return true },
			run: func(ctx context.Context, domain string) contribution {
				return r.runAPI(ctx, cfg, domain)
			},
		})
	}
	if r.whois != nil {
		out = append(out, stage{
			source: core.SourceWhois,
			probe:  core.ProbeSourceWhois,
			needed: func(acc *accumulator) bool { return acc.expiry == nil || acc.registrar == "" },
			run:    r.runWhois,
		})
	}
	return out
}

func (r *Resolver) safeRun(ctx context.Context, s stage, domain string) (c contribution) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Resolution stage panicked",
				zap.String("domain", domain),
				zap.String("stage", string(s.probe)),
				zap.Any("panic", rec),
			)
			c = contribution{err: &core.ProbeError{Source: s.probe, Message: fmt.Sprintf("panic: %v", rec)}}
		}
	}()
	return s.run(ctx, domain)
}

func (r *Resolver) runAPI(ctx context.Context, cfg core.RegistrarConfig, domain string) contribution {
	client, err := r.registrars(cfg)
	if err != nil {
		return contribution{err: &core.ProbeError{Source: core.ProbeSourceAPI, Message: err.Error()}}
	}
	info, err := client.Lookup(ctx, domain)
	c := contribution{expiry: info.ExpiryDate, registrar: info.Registrar}
	if err != nil {
		r.logger.Warn("Registrar API lookup failed",
			zap.String("domain", domain),
			zap.String("registrar", cfg.Registrar),
			zap.Error(err),
		)
		c.err = &core.ProbeError{Source: core.ProbeSourceAPI, Message: err.Error()}
	}
	return c
}

func (r *Resolver) runWhois(ctx context.Context, domain string) contribution {
	var res core.ProbeResult
	if cached, ok := r.cachedWhois(domain); ok {
		res = cached
	} else {
		res = r.whois.Check(ctx, domain)
		if !res.HasError() && r.whoisCache != nil {
			r.whoisCache.SetDefault(domain, res)
		}
	}

	c := contribution{expiry: res.ExpiryDate, registrar: res.Registrar}
	if res.HasError() {
		c.err = &core.ProbeError{Source: core.ProbeSourceWhois, Message: res.Error}
	}
	return c
}

func (r *Resolver) cachedWhois(domain string) (core.ProbeResult, bool) {
	if r.whoisCache == nil {
		return core.ProbeResult{}, false
	}
	v, ok := r.whoisCache.Get(domain)
	if !ok {
		return core.ProbeResult{}, false
	}
	res, ok := v.(core.ProbeResult)
	return res, ok
}

func (r *Resolver) runTLS(ctx context.Context, domain string) (res core.ProbeResult) {
	if r.tls == nil {
		return core.ProbeResult{Domain: domain, SSLStatus: core.SSLStatusUnknown}
	}
	defer func() {
		if rec := recover(); rec != nil {
			res = core.ProbeResult{Domain: domain, SSLStatus: core.SSLStatusUnknown, Error: fmt.Sprintf("panic: %v", rec)}
		}
	}()
	return r.tls.Check(ctx, domain, r.tlsPort)
}

// FlushCache drops every cached WHOIS answer.
func (r *Resolver) FlushCache() {
	if r.whoisCache != nil {
		r.whoisCache.Flush()
	}
}
