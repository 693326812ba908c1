package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/leozw/domain-guardian/internal/core"
	"github.com/leozw/domain-guardian/internal/monitoring"
	"github.com/leozw/domain-guardian/internal/queue"
	"github.com/leozw/domain-guardian/internal/scheduler"
)

// Engine is the monitoring engine surface exposed over HTTP.
type Engine interface {
	Status() scheduler.Status
	RunNow(ctx context.Context) (scheduler.SweepResult, error)
	RunAsync(ctx context.Context) error
	Stats(ctx context.Context) (scheduler.Stats, error)
	QueryLogs(ctx context.Context, filter monitoring.LogFilter) (monitoring.LogPage, error)
	PurgeLogsOlderThan(ctx context.Context, days int) (int64, error)
	ResolveDomain(ctx context.Context, name, registrar string) core.ResolvedDomainInfo
	CheckDomain(ctx context.Context, id string) (scheduler.CheckResult, error)
}

type DomainLister interface {
	ListDomains(ctx context.Context) ([]core.Domain, error)
}

// Enqueuer defers a domain check to a background consumer. Optional.
type Enqueuer interface {
	Enqueue(ctx context.Context, domainID string) (queue.Job, error)
}

// Pinger reports backing store health. Optional.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	engine  Engine
	domains DomainLister
	pinger  Pinger
	queue   Enqueuer
	logger  *zap.Logger
}

func NewHandler(engine Engine, domains DomainLister, pinger Pinger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		engine:  engine,
		domains: domains,
		pinger:  pinger,
		logger:  logger.With(zap.String("component", "api")),
	}
}

func (h *Handler) WithQueue(q Enqueuer) *Handler {
	h.queue = q
	return h
}
