package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-portal/pkg/errors"
	"github.com/tendant/simple-portal/pkg/metrics"
)

// ClearConfirmation is the literal token a caller must supply to clear the log.
const ClearConfirmation = "CLEAR_ALL_AUDIT_LOGS"

// Service is the audit log.
type Service struct {
	repo    Repository
	metrics *metrics.AuditMetrics
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.AuditMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger overrides slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a new audit service
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LogSecurity appends one entry and returns it. It never fails: unknown
// actions and severities are stored verbatim, empty ones are normalised, and
// a store failure is logged and counted instead of returned.
func (s *Service) LogSecurity(ctx context.Context, ev Event) Entry {
	entry := s.newEntry(ctx, ev)
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger.Error("Failed to write audit entry",
			"action", entry.Action,
			"actor_id", entry.ActorID,
			"entry_id", entry.ID,
			"err", err)
		s.metrics.ObserveWriteError(string(entry.Action))
		return entry
	}

	s.metrics.ObserveEntry(string(entry.Action), string(entry.Severity))
	return entry
}

func (s *Service) newEntry(ctx context.Context, ev Event) Entry {
	entry := Entry{
		ID:             uuid.New(),
		Action:         ev.Action,
		Severity:       ev.Severity,
		ActorID:        ev.ActorID,
		ActorEmail:     ev.ActorEmail,
		ActorName:      ev.ActorName,
		Description:    ev.Description,
		Result:         ev.Result,
		OccurredAt:     s.now().UTC(),
		RequestContext: ev.RequestContext,
		Metadata:       ev.Metadata,
	}
	if entry.Action == "" {
		entry.Action = ActionUnknown
	}
	if entry.Severity == "" {
		entry.Severity = SeverityLow
	}
	if entry.Result == "" {
		entry.Result = ResultSuccess
	}
	if entry.RequestContext.IsZero() {
		entry.RequestContext = RequestContextFrom(ctx)
	}
	return entry
}

// GetStatistics aggregates all stored entries as of now.
func (s *Service) GetStatistics(ctx context.Context) (Statistics, error) {
	stats, err := s.repo.Statistics(ctx, s.now().UTC())
	if err != nil {
		return Statistics{}, errors.InternalWrap(err, "failed to compute audit statistics")
	}
	return stats, nil
}

// List returns one page of entries newest first. page is 1-based.
func (s *Service) List(ctx context.Context, filter ListFilter, page, pageSize int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		return Page{}, errors.InvalidInput("page_size", "must be positive")
	}

	entries, total, err := s.repo.List(ctx, filter, pageSize, (page-1)*pageSize)
	if err != nil {
		return Page{}, errors.InternalWrap(err, "failed to list audit entries")
	}
	return Page{Entries: entries, Total: total, Page: page, PageSize: pageSize}, nil
}

// Actor identifies who is clearing the log.
type Actor struct {
	ID    string
	Email string
	Name  string
}

// ClearLogs replaces every entry with one AUDIT_LOGS_CLEARED entry naming
// actor. The marker is stored in the same step as the removal, so a clear
// that cannot be recorded removes nothing. confirm must equal
// ClearConfirmation. Builds tagged production always refuse.
func (s *Service) ClearLogs(ctx context.Context, actor Actor, confirm string) (ClearResult, error) {
	if !ClearSupported {
		return ClearResult{}, errors.Forbidden("audit log clearing is disabled in this build")
	}
	if confirm == "" {
		return ClearResult{}, errors.MissingRequired("confirm")
	}
	if confirm != ClearConfirmation {
		return ClearResult{}, errors.InvalidInput("confirm", "must be "+ClearConfirmation)
	}

	marker := s.newEntry(ctx, Event{
		Action:      ActionAuditLogsCleared,
		ActorID:     actor.ID,
		ActorEmail:  actor.Email,
		ActorName:   actor.Name,
		Description: "audit log cleared",
		Severity:    SeverityCritical,
		Result:      ResultSuccess,
	})

	removed, err := s.repo.Clear(ctx, marker)
	if err != nil {
		s.logger.Error("Failed to clear audit log", "actor_id", actor.ID, "marker_id", marker.ID, "err", err)
		s.metrics.ObserveWriteError(string(marker.Action))
		return ClearResult{}, errors.InternalWrap(err, "failed to clear audit log")
	}

	s.metrics.ObserveEntry(string(marker.Action), string(marker.Severity))
	s.metrics.ObserveClear()
	s.logger.Warn("Audit log cleared", "actor_id", actor.ID, "removed", removed, "marker_id", marker.ID)
	return ClearResult{Removed: removed, MarkerID: marker.ID}, nil
}
