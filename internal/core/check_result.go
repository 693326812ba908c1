package core

import (
	"fmt"
	"time"
)

// ProbeSource identifies which external authority produced a value or error.
type ProbeSource string

const (
	ProbeSourceAPI   ProbeSource = "api"
	ProbeSourceWhois ProbeSource = "whois"
	ProbeSourceTLS   ProbeSource = "tls"
)

// ProbeError is a non-fatal failure reported by a single probe.
type ProbeError struct {
	Source  ProbeSource `json:"source"`
	Message string      `json:"message"`
}

func (e ProbeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Source, e.Message)
}

// ProbeResult is the outcome of one WHOIS or TLS probe.
// At most one of ExpiryDate and Error is meaningful; both nil means unknown.
type ProbeResult struct {
	Domain     string     `json:"domain"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
	Registrar  string     `json:"registrar,omitempty"`
	SSLStatus  SSLStatus  `json:"ssl_status,omitempty"`
	Error      string     `json:"error,omitempty"`
}

func (r ProbeResult) HasError() bool {
	return r.Error != ""
}

type ResolutionStatus string

const (
	StatusOnline  ResolutionStatus = "Online"
	StatusError   ResolutionStatus = "Error"
	StatusUnknown ResolutionStatus = "Unknown"
)

type Source string

const (
	SourceAPI     Source = "api"
	SourceWhois   Source = "whois"
	SourceUnknown Source = "unknown"
)

// ResolutionOutcome classifies a ResolvedDomainInfo for callers that care
// whether the record is complete.
type ResolutionOutcome string

const (
	ResolutionComplete       ResolutionOutcome = "complete"
	ResolutionPartialFailure ResolutionOutcome = "partial_failure"
	ResolutionTotalFailure   ResolutionOutcome = "total_failure"
)

// ResolvedDomainInfo is the reconciled view of a domain across all sources.
type ResolvedDomainInfo struct {
	Domain        string           `json:"domain"`
	Registrar     string           `json:"registrar"`
	ExpiryDate    *time.Time       `json:"expiry_date,omitempty"`
	SSLExpiryDate *time.Time       `json:"ssl_expiry_date,omitempty"`
	SSLStatus     SSLStatus        `json:"ssl_status"`
	Status        ResolutionStatus `json:"status"`
	Source        Source           `json:"source"`
	Errors        []ProbeError     `json:"errors,omitempty"`
}

// HasData reports whether any expiry information was obtained.
func (r ResolvedDomainInfo) HasData() bool {
	return r.ExpiryDate != nil || r.SSLExpiryDate != nil
}

func (r ResolvedDomainInfo) Outcome() ResolutionOutcome {
	switch {
	case len(r.Errors) == 0:
		return ResolutionComplete
	case r.HasData():
		return ResolutionPartialFailure
	default:
		return ResolutionTotalFailure
	}
}

// ErrorFrom returns the first error reported by the given source.
func (r ResolvedDomainInfo) ErrorFrom(src ProbeSource) (ProbeError, bool) {
	for _, e := range r.Errors {
		if e.Source == src {
			return e, true
		}
	}
	return ProbeError{}, false
}
