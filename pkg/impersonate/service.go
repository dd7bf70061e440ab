package impersonate

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-portal/pkg/audit"
	"github.com/tendant/simple-portal/pkg/config"
	"github.com/tendant/simple-portal/pkg/errors"
	"github.com/tendant/simple-portal/pkg/metrics"
	"github.com/tendant/simple-portal/pkg/sessions"
)

// Service is the impersonation manager. It does not check permissions;
// callers gate every operation before invoking it.
type Service struct {
	repo    Repository
	audit   *audit.Service
	tracker sessions.Tracker
	metrics *metrics.ImpersonationMetrics
	cfg     config.ImpersonationConfig
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTracker invalidates the impersonated context's tracker entry when a
// session ends or expires.
func WithTracker(t sessions.Tracker) Option {
	return func(s *Service) {
		s.tracker = t
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.ImpersonationMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithConfig overrides the default duration bounds and policy.
func WithConfig(cfg config.ImpersonationConfig) Option {
	return func(s *Service) {
		s.cfg = cfg
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

// NewService creates a new impersonation service
func NewService(repo Repository, auditService *audit.Service, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		audit:  auditService,
		cfg:    config.DefaultImpersonationConfig(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the active configuration.
func (s *Service) Config() config.ImpersonationConfig {
	return s.cfg
}

// Start creates an active session. A caller that times out waiting for Start
// must reconcile through History rather than retry, since the session may
// have been created.
func (s *Service) Start(ctx context.Context, req StartRequest) (Session, error) {
	req.AdminID = strings.TrimSpace(req.AdminID)
	req.TargetClientID = strings.TrimSpace(req.TargetClientID)
	req.Reason = strings.TrimSpace(req.Reason)

	if req.AdminID == "" {
		return Session{}, errors.MissingRequired("admin_id")
	}
	if req.TargetClientID == "" {
		return Session{}, errors.MissingRequired("target_client_id")
	}
	if req.Reason == "" {
		return Session{}, errors.MissingRequired("reason")
	}
	if req.DurationMinutes < s.cfg.MinDurationMinutes || req.DurationMinutes > s.cfg.MaxDurationMinutes {
		return Session{}, errors.OutOfRange("duration_minutes", req.DurationMinutes, s.cfg.MinDurationMinutes, s.cfg.MaxDurationMinutes)
	}

	now := s.now().UTC()
	session := Session{
		ID:             uuid.New(),
		AdminID:        req.AdminID,
		AdminEmail:     req.AdminEmail,
		TargetClientID: req.TargetClientID,
		Reason:         req.Reason,
		Status:         StatusActive,
		StartedAt:      now,
		ExpiresAt:      now.Add(time.Duration(req.DurationMinutes) * time.Minute),
	}

	err := s.repo.Create(ctx, session, CreateOptions{SingleActive: s.cfg.SingleActivePerAdmin, Now: now})
	if stderrors.Is(err, ErrActiveSessionExists) {
		return Session{}, errors.Conflict("admin already has an active impersonation session").
			WithDetail("admin_id", req.AdminID)
	}
	if err != nil {
		return Session{}, errors.InternalWrap(err, "failed to create impersonation session")
	}

	s.audit.LogSecurity(ctx, audit.Event{
		Action:      audit.ActionImpersonationStarted,
		ActorID:     session.AdminID,
		ActorEmail:  session.AdminEmail,
		Description: fmt.Sprintf("Started impersonating client %s: %s", session.TargetClientID, session.Reason),
		Severity:    audit.SeverityHigh,
		Result:      audit.ResultSuccess,
		Metadata: map[string]string{
			"session_id":       session.ID.String(),
			"target_client_id": session.TargetClientID,
			"duration_minutes": strconv.Itoa(req.DurationMinutes),
			"expires_at":       session.ExpiresAt.Format(time.RFC3339),
		},
	})
	s.metrics.ObserveTransition(string(StatusActive))

	if s.tracker != nil {
		if _, err := s.tracker.RecordActivity(ctx, sessions.ImpersonationKey(session.ID.String()), session.AdminEmail); err != nil {
			s.logger.Warn("Failed to track impersonation context", "session_id", session.ID, "err", err)
		}
	}

	s.logger.Info("Impersonation started",
		"session_id", session.ID,
		"admin_id", session.AdminID,
		"target_client_id", session.TargetClientID,
		"expires_at", session.ExpiresAt)
	return session, nil
}

// End moves an active session to ended. Unknown ids are NotFound; a session
// already ended or expired is a Conflict.
func (s *Service) End(ctx context.Context, req EndRequest) (EndResult, error) {
	if req.SessionID == uuid.Nil {
		return EndResult{}, errors.MissingRequired("session_id")
	}
	if strings.TrimSpace(req.EndedBy) == "" {
		return EndResult{}, errors.MissingRequired("ended_by")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = DefaultEndReason
	}

	now := s.now().UTC()
	session, err := s.repo.Transition(ctx, req.SessionID, Transition{
		To:        StatusEnded,
		EndedAt:   now,
		EndedBy:   req.EndedBy,
		EndReason: reason,
	})
	switch {
	case stderrors.Is(err, ErrSessionNotFound):
		return EndResult{}, errors.NotFound("impersonation session", req.SessionID.String())
	case stderrors.Is(err, ErrSessionNotActive):
		return EndResult{}, errors.Conflict(fmt.Sprintf("impersonation session is %s, not active", session.Status)).
			WithDetail("session_id", req.SessionID.String()).
			WithDetail("status", string(session.Status))
	case err != nil:
		return EndResult{}, errors.InternalWrap(err, "failed to end impersonation session")
	}

	s.audit.LogSecurity(ctx, audit.Event{
		Action:      audit.ActionImpersonationEnded,
		ActorID:     req.EndedBy,
		ActorEmail:  req.EndedByEmail,
		Description: fmt.Sprintf("Ended impersonation of client %s: %s", session.TargetClientID, reason),
		Severity:    audit.SeverityMedium,
		Result:      audit.ResultSuccess,
		Metadata: map[string]string{
			"session_id":       session.ID.String(),
			"target_client_id": session.TargetClientID,
			"admin_id":         session.AdminID,
		},
	})
	s.metrics.ObserveTransition(string(StatusEnded))
	s.invalidate(ctx, session.ID)

	s.logger.Info("Impersonation ended", "session_id", session.ID, "ended_by", req.EndedBy, "reason", reason)
	return EndResult{
		Message: fmt.Sprintf("Impersonation of client %s ended after %s", session.TargetClientID, now.Sub(session.StartedAt).Round(time.Second)),
		Session: session,
	}, nil
}

// GetSession returns one session.
func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (Session, error) {
	session, err := s.repo.GetByID(ctx, id)
	if stderrors.Is(err, ErrSessionNotFound) {
		return Session{}, errors.NotFound("impersonation session", id.String())
	}
	if err != nil {
		return Session{}, errors.InternalWrap(err, "failed to get impersonation session")
	}
	return session, nil
}

// ListActive returns adminID's active sessions and the summary of all of
// adminID's sessions.
func (s *Service) ListActive(ctx context.Context, adminID string) (ActiveView, error) {
	if adminID == "" {
		return ActiveView{}, errors.MissingRequired("admin_id")
	}

	active, err := s.repo.List(ctx, HistoryFilter{AdminID: adminID, Statuses: []Status{StatusActive}}, 0, 0)
	if err != nil {
		return ActiveView{}, errors.InternalWrap(err, "failed to list active impersonation sessions")
	}
	summary, err := s.repo.Summarize(ctx, HistoryFilter{AdminID: adminID})
	if err != nil {
		return ActiveView{}, errors.InternalWrap(err, "failed to summarize impersonation sessions")
	}
	return ActiveView{Sessions: active, Summary: summary}, nil
}

// History returns one page of matching sessions. The summary covers the whole
// filtered set regardless of paging. page is 1-based.
func (s *Service) History(ctx context.Context, filter HistoryFilter, page, pageSize int) (HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		return HistoryPage{}, errors.InvalidInput("page_size", "must be positive")
	}
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return HistoryPage{}, errors.InvalidInput("status", fmt.Sprintf("unknown status %q", st))
		}
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return HistoryPage{}, errors.InvalidInput("from", "must not be after to")
	}

	list, err := s.repo.List(ctx, filter, pageSize, (page-1)*pageSize)
	if err != nil {
		return HistoryPage{}, errors.InternalWrap(err, "failed to list impersonation sessions")
	}
	summary, err := s.repo.Summarize(ctx, filter)
	if err != nil {
		return HistoryPage{}, errors.InternalWrap(err, "failed to summarize impersonation sessions")
	}
	return HistoryPage{Sessions: list, Summary: summary, Page: page, PageSize: pageSize}, nil
}

// CleanupExpiredSessions moves every active session past its expiry to
// expired and returns how many it moved. Sessions another caller moved first
// are skipped without error, so concurrent and repeated sweeps are safe. A
// failed transition stops the sweep; the rest wait for the next one.
func (s *Service) CleanupExpiredSessions(ctx context.Context) (int, error) {
	start := s.now()
	now := start.UTC()

	candidates, err := s.repo.ListExpired(ctx, now)
	if err != nil {
		return 0, errors.InternalWrap(err, "failed to list expired impersonation sessions")
	}

	expired := 0
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return expired, err
		}

		session, err := s.repo.Transition(ctx, c.ID, Transition{
			To:        StatusExpired,
			EndedAt:   now,
			EndedBy:   SystemActor,
			EndReason: ExpiredReason,
		})
		if stderrors.Is(err, ErrSessionNotActive) || stderrors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return expired, errors.InternalWrap(err, "failed to expire impersonation session")
		}
		expired++

		s.audit.LogSecurity(ctx, audit.Event{
			Action:      audit.ActionImpersonationExpired,
			ActorID:     SystemActor,
			Description: fmt.Sprintf("Impersonation of client %s by %s expired", session.TargetClientID, session.AdminID),
			Severity:    audit.SeverityMedium,
			Result:      audit.ResultSuccess,
			Metadata: map[string]string{
				"session_id":       session.ID.String(),
				"target_client_id": session.TargetClientID,
				"admin_id":         session.AdminID,
				"expires_at":       session.ExpiresAt.Format(time.RFC3339),
			},
		})
		s.metrics.ObserveTransition(string(StatusExpired))
		s.invalidate(ctx, session.ID)
	}

	if s.metrics != nil {
		s.metrics.ObserveSweep(s.now().Sub(start).Seconds(), expired)
		active, err := s.repo.Summarize(ctx, HistoryFilter{Statuses: []Status{StatusActive}})
		if err != nil {
			s.logger.Warn("Failed to count active sessions", "err", err)
		} else {
			s.metrics.SetActive(active.ActiveSessions)
		}
	}

	if expired > 0 {
		s.logger.Info("Expired impersonation sessions", "count", expired)
	}
	return expired, nil
}

func (s *Service) invalidate(ctx context.Context, id uuid.UUID) {
	if s.tracker == nil {
		return
	}
	if err := s.tracker.InvalidateSession(ctx, sessions.ImpersonationKey(id.String())); err != nil {
		s.logger.Warn("Failed to invalidate impersonation context", "session_id", id, "err", err)
	}
}
