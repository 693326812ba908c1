// Package memory provides map-backed implementations of every store the
// engine consumes. It is used in tests and when no database is configured.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/leozw/domain-guardian/internal/core"
	"github.com/leozw/domain-guardian/internal/monitoring"
)

type Store struct {
	mu         sync.RWMutex
	domains    map[string]core.Domain
	order      []string
	registrars map[string]core.RegistrarConfig
	settings   core.NotificationSettings
	logs       []core.MonitoringLogEntry
	dispatches []core.AlertDispatchRecord
}

func New() *Store {
	return &Store{
		domains:    make(map[string]core.Domain),
		registrars: make(map[string]core.RegistrarConfig),
	}
}

// UpsertDomain adds or replaces a tracked domain.
func (s *Store) UpsertDomain(d core.Domain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.domains[d.ID]; !ok {
		s.order = append(s.order, d.ID)
	}
	s.domains[d.ID] = d
}

func (s *Store) Domain(id string) (core.Domain, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.domains[id]
	return d, ok
}

func (s *Store) GetDomain(ctx context.Context, id string) (core.Domain, error) {
	d, ok := s.Domain(id)
	if !ok {
		return core.Domain{}, core.ErrDomainNotFound
	}
	return d, nil
}

func (s *Store) ListDomains(ctx context.Context) ([]core.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Domain, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.domains[id])
	}
	return out, nil
}

func (s *Store) ListActiveDomains(ctx context.Context) ([]core.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Domain, 0, len(s.order))
	for _, id := range s.order {
		if d := s.domains[id]; d.IsActive {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) WriteBackDomainUpdate(ctx context.Context, id string, u core.DomainUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.domains[id]
	if !ok {
		return false, nil
	}
	if u.Registrar != nil {
		d.Registrar = *u.Registrar
	}
	if u.ExpiryDate != nil && !u.PreserveExpiryDate {
		d.ExpiryDate = u.ExpiryDate
	}
	if u.SSLExpiryDate != nil {
		d.SSLExpiryDate = u.SSLExpiryDate
	}
	if u.SSLStatus != nil {
		d.SSLStatus = *u.SSLStatus
	}
	if u.LastWhoisCheck != nil {
		d.LastWhoisCheck = u.LastWhoisCheck
	}
	if u.LastSSLCheck != nil {
		d.LastSSLCheck = u.LastSSLCheck
	}
	s.domains[id] = d
	return true, nil
}

func (s *Store) SetRegistrarConfig(cfg core.RegistrarConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrars[strings.ToLower(cfg.Registrar)] = cfg
}

// GetRegistrarConfig returns nil without error when no config exists.
func (s *Store) GetRegistrarConfig(ctx context.Context, name string) (*core.RegistrarConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.registrars[strings.ToLower(name)]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (s *Store) SetNotificationSettings(settings core.NotificationSettings) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
}

func (s *Store) GetNotificationSettings(ctx context.Context) (core.NotificationSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *Store) AppendLog(ctx context.Context, entry *core.MonitoringLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, *entry)
	return nil
}

func (s *Store) HasDedupKey(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.logs {
		if l.DedupKey == key {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) MarkAlerted(ctx context.Context, logID string, channels core.Channels) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.logs {
		if s.logs[i].ID == logID {
			s.logs[i].AlertSent = len(channels) > 0
			s.logs[i].AlertChannels = append(core.Channels{}, channels...)
			return nil
		}
	}
	return nil
}

func matches(f monitoring.LogFilter, l core.MonitoringLogEntry) bool {
	if f.Domain != "" && !strings.EqualFold(f.Domain, l.Domain) {
		return false
	}
	if f.LogType != "" && f.LogType != l.LogType {
		return false
	}
	if f.Severity != "" && f.Severity != l.Severity {
		return false
	}
	if f.Since != nil && l.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// QueryLogs returns matching entries newest first.
func (s *Store) QueryLogs(ctx context.Context, filter monitoring.LogFilter) (monitoring.LogPage, error) {
	filter = filter.Normalize()
	s.mu.RLock()
	var matched []core.MonitoringLogEntry
	for _, l := range s.logs {
		if matches(filter, l) {
			matched = append(matched, l)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := monitoring.LogPage{Total: int64(len(matched)), Page: filter.Page, Limit: filter.Limit}
	start := filter.Offset()
	if start >= len(matched) {
		page.Entries = []core.MonitoringLogEntry{}
		return page, nil
	}
	end := start + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	page.Entries = matched[start:end]
	return page, nil
}

func (s *Store) PurgeLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.logs[:0]
	live := make(map[string]struct{}, len(s.logs))
	var removed int64
	for _, l := range s.logs {
		if l.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, l)
		live[l.ID] = struct{}{}
	}
	s.logs = kept

	dispatches := s.dispatches[:0]
	for _, d := range s.dispatches {
		if _, ok := live[d.LogID]; ok {
			dispatches = append(dispatches, d)
		}
	}
	s.dispatches = dispatches
	return removed, nil
}

func (s *Store) CountLogsSince(ctx context.Context, severity core.Severity, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, l := range s.logs {
		if l.Severity == severity && !l.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// Logs returns a copy of every entry in append order.
func (s *Store) Logs() []core.MonitoringLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.MonitoringLogEntry(nil), s.logs...)
}

func (s *Store) AppendDispatch(ctx context.Context, rec *core.AlertDispatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatches = append(s.dispatches, *rec)
	return nil
}

func (s *Store) Dispatches() []core.AlertDispatchRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.AlertDispatchRecord(nil), s.dispatches...)
}
