package impersonate

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-portal/pkg/audit"
	"github.com/tendant/simple-portal/pkg/config"
	"github.com/tendant/simple-portal/pkg/errors"
	"github.com/tendant/simple-portal/pkg/metrics"
	"github.com/tendant/simple-portal/pkg/sessions"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	service *Service
	repo    Repository
	audit   *audit.Service
	tracker *sessions.InMemTracker
	metrics *metrics.Metrics
	clock   *fakeClock
}

func setupService(t *testing.T, repo Repository, opts ...Option) *testEnv {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	auditService := audit.NewService(audit.NewInMemoryRepository(), audit.WithClock(clock.Now))
	tracker := sessions.NewInMemTracker(30 * time.Minute).WithClock(clock.Now)
	m := metrics.New(prometheus.NewRegistry())

	all := append([]Option{
		WithClock(clock.Now),
		WithTracker(tracker),
		WithMetrics(m.Impersonation),
	}, opts...)

	return &testEnv{
		service: NewService(repo, auditService, all...),
		repo:    repo,
		audit:   auditService,
		tracker: tracker,
		metrics: m,
		clock:   clock,
	}
}

func (e *testEnv) start(t *testing.T, admin, client string, minutes int) Session {
	t.Helper()
	s, err := e.service.Start(context.Background(), StartRequest{
		AdminID:         admin,
		AdminEmail:      admin + "@example.com",
		TargetClientID:  client,
		Reason:          "support ticket #42",
		DurationMinutes: minutes,
	})
	require.NoError(t, err)
	return s
}

func (e *testEnv) auditEntries(t *testing.T, action audit.Action) []audit.Entry {
	t.Helper()
	page, err := e.audit.List(context.Background(), audit.ListFilter{Actions: []audit.Action{action}}, 1, 1000)
	require.NoError(t, err)
	return page.Entries
}

// assertTerminalFields checks that ended_at and ended_by are set exactly when
// the session has left active.
func assertTerminalFields(t *testing.T, s Session) {
	t.Helper()
	if s.IsActive() {
		assert.Nil(t, s.EndedAt)
		assert.Empty(t, s.EndedBy)
	} else {
		assert.NotNil(t, s.EndedAt)
		assert.NotEmpty(t, s.EndedBy)
	}
}

func TestScenario_StartSweepEndConflict(t *testing.T) {
	env := setupService(t, NewInMemoryRepository())
	ctx := context.Background()

	session := env.start(t, "A1", "C9", 30)
	assert.Equal(t, StatusActive, session.Status)
	assert.Equal(t, session.StartedAt.Add(30*time.Minute), session.ExpiresAt)
	assertTerminalFields(t, session)

	env.clock.Advance(10 * time.Minute)
	n, err := env.service.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := env.service.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)

	result, err := env.service.End(ctx, EndRequest{SessionID: session.ID, EndedBy: "A1", Reason: "resolved"})
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, result.Session.Status)
	assert.Equal(t, "resolved", result.Session.EndReason)
	assert.Equal(t, "A1", result.Session.EndedBy)
	assert.NotEmpty(t, result.Message)
	assertTerminalFields(t, result.Session)

	_, err = env.service.End(ctx, EndRequest{SessionID: session.ID, EndedBy: "A1", Reason: "again"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))

	got, err = env.service.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "resolved", got.EndReason, "a rejected end leaves the session untouched")
}

func TestScenario_SweepExpires(t *testing.T) {
	env := setupService(t, NewInMemoryRepository())
	ctx := context.Background()

	session := env.start(t, "A1", "C9", 5)
	env.clock.Advance(6 * time.Minute)

	n, err := env.service.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = env.service.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second sweep is a no-op")

	got, err := env.service.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
	assert.Equal(t, SystemActor, got.EndedBy)
	assert.Equal(t, ExpiredReason, got.EndReason)
	assertTerminalFields(t, got)

	expired := env.auditEntries(t, audit.ActionImpersonationExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, session.ID.String(), expired[0].Metadata["session_id"])

	_, err = env.service.End(ctx, EndRequest{SessionID: session.ID, EndedBy: "A1"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeConflict), "expired sessions cannot be ended")
}

func TestSweep_ExactExpiryIsNotExpired(t *testing.T) {
	env := setupService(t, NewInMemoryRepository())
	env.start(t, "A1", "C9", 5)

	env.clock.Advance(5 * time.Minute)
	n, err := env.service.CleanupExpiredSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	env.clock.Advance(time.Nanosecond)
	n, err = env.service.CleanupExpiredSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStart_Validation(t *testing.T) {
	env := setupService(t, NewInMemoryRepository())
	ctx := context.Background()

	tests := []struct {
		name string
		req  StartRequest
		code errors.ErrorCode
	}{
		{"missing admin", StartRequest{TargetClientID: "C9", Reason: "r", DurationMinutes: 10}, errors.ErrCodeMissingRequired},
		{"missing target", StartRequest{AdminID: "A1", Reason: "r", DurationMinutes: 10}, errors.ErrCodeMissingRequired},
		{"blank reason", StartRequest{AdminID: "A1", TargetClientID: "C9", Reason: "   ", DurationMinutes: 10}, errors.ErrCodeMissingRequired},
		{"zero duration", StartRequest{AdminID: "A1", TargetClientID: "C9", Reason: "r", DurationMinutes: 0}, errors.ErrCodeValueOutOfRange},
		{"too long", StartRequest{AdminID: "A1", TargetClientID: "C9", Reason: "r", DurationMinutes: 481}, errors.ErrCodeValueOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.Start(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}

	assert.Empty(t, env.auditEntries(t, audit.ActionImpersonationStarted), "rejected starts are not audited")

	for _, minutes := range []int{1, 480} {
		_, err := env.service.Start(ctx, StartRequest{AdminID: "A1", TargetClientID: "C9", Reason: "r", DurationMinutes: minutes})
		assert.NoError(t, err, "duration %d is within bounds", minutes)
	}
}

func TestEnd_Errors(t *testing.T) {
	env := setupService(t, NewInMemoryRepository())
	ctx := context.Background()

	_, err := env.service.End(ctx, EndRequest{SessionID: uuid.New(), EndedBy: "A1"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	_, err = env.service.End(ctx, EndRequest{EndedBy: "A1"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeMissingRequired))

	session := env.start(t, "A1", "C9", 30)
	result, err := env.service.End(ctx, EndRequest{SessionID: session.ID, EndedBy: "A2"})
	require.NoError(t, err)
	assert.Equal(t, DefaultEndReason, result.Session.EndReason)
	assert.Equal(t, "A2", result.Session.EndedBy)
}

func TestAuditEntryPerTransition(t *testing.T) {
	env := setupService(t, NewInMemoryRepository())
	ctx := context.Background()

	before := env.clock.Now()
	session := env.start(t, "A1", "C9", 30)

	started := env.auditEntries(t, audit.ActionImpersonationStarted)
	require.Len(t, started, 1)
	assert.Equal(t, "A1", started[0].ActorID)
	assert.False(t, started[0].OccurredAt.Before(before))
	assert.Equal(t, "C9", started[0].Metadata["target_client_id"])

	env.clock.Advance(time.Minute)
	before = env.clock.Now()
	_, err := env.service.End(ctx, EndRequest{SessionID: session.ID, EndedBy: "A2", EndedByEmail: "a2@example.com", Reason: "done"})
	require.NoError(t, err)

	ended := env.auditEntries(t, audit.ActionImpersonationEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, "A2", ended[0].ActorID)
	assert.False(t, ended[0].OccurredAt.Before(before))

	// A failed end writes nothing.
	_, _ = env.service.End(ctx, EndRequest{SessionID: session.ID, EndedBy: "A2"})
	assert.Len(t, env.auditEntries(t, audit.ActionImpersonationEnded), 1)
}

type failingAuditRepository struct {
	*audit.InMemoryRepository
}

func (failingAuditRepository) Append(ctx context.Context, entry audit.Entry) error {
	return stderrors.New("audit store down")
}

func TestAuditFailureDoesNotRollBack(t *testing.T) {
	repo := NewInMemoryRepository()
	svc := NewService(repo, audit.NewService(failingAuditRepository{audit.NewInMemoryRepository()}))
	ctx := context.Background()

	session, err := svc.Start(ctx, StartRequest{AdminID: "A1", TargetClientID: "C9", Reason: "r", DurationMinutes: 5})
	require.NoError(t, err)

	result, err := svc.End(ctx, EndRequest{SessionID: session.ID, EndedBy: "A1"})
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, result.Session.Status)
}

func TestSingleActivePolicy(t *testing.T) {
	cfg := config.DefaultImpersonationConfig()
	cfg.SingleActivePerAdmin = true
	env := setupService(t, NewInMemoryRepository(), WithConfig(cfg))
	ctx := context.Background()

	first := env.start(t, "A1", "C9", 5)

	_, err := env.service.Start(ctx, StartRequest{AdminID: "A1", TargetClientID: "C10", Reason: "r", DurationMinutes: 5})
	assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))

	// Another admin is unaffected.
	env.start(t, "A2", "C9", 5)

	// Once the first session has passed expiry, even before a sweep, a new one may start.
	env.clock.Advance(6 * time.Minute)
	env.start(t, "A1", "C10", 5)

	_, err = env.service.End(ctx, EndRequest{SessionID: first.ID, EndedBy: "A1"})
	assert.NoError(t, err, "unswept session can still be ended")
}

func TestMultipleActiveAllowedByDefault(t *testing.T) {
	env := setupService(t, NewInMemoryRepository())
	env.start(t, "A1", "C9", 5)
	env.start(t, "A1", "C10", 5)

	view, err := env.service.ListActive(context.Background(), "A1")
	require.NoError(t, err)
	assert.Len(t, view.Sessions, 2)
}

func TestListActive(t *testing.T) {
	env := setupService(t, NewInMemoryRepository())
	ctx := context.Background()

	a := env.start(t, "A1", "C1", 60)
	env.start(t, "A1", "C2", 60)
	env.start(t, "A2", "C3", 60)
	_, err := env.service.End(ctx, EndRequest{SessionID: a.ID, EndedBy: "A1"})
	require.NoError(t, err)

	view, err := env.service.ListActive(ctx, "A1")
	require.NoError(t, err)
	require.Len(t, view.Sessions, 1)
	assert.Equal(t, "C2", view.Sessions[0].TargetClientID)
	assert.Equal(t, Summary{TotalSessions: 2, ActiveSessions: 1, EndedSessions: 1}, view.Summary)

	_, err = env.service.ListActive(ctx, "")
	assert.True(t, errors.IsValidation(err))
}

func TestHistory_SummaryCoversFilteredSet(t *testing.T) {
	env := setupService(t, NewInMemoryRepository())
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 7; i++ {
		ids = append(ids, env.start(t, "A1", "C9", 5+i).ID)
		env.clock.Advance(time.Second)
	}
	env.start(t, "A2", "C9", 60)

	// End two, expire the shortest remaining.
	for _, id := range ids[:2] {
		_, err := env.service.End(ctx, EndRequest{SessionID: id, EndedBy: "A1"})
		require.NoError(t, err)
	}
	env.clock.Advance(7 * time.Minute)
	n, err := env.service.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	filter := HistoryFilter{AdminID: "A1"}
	want := Summary{TotalSessions: 7, ActiveSessions: 4, EndedSessions: 2, ExpiredSessions: 1}
	for _, pageSize := range []int{1, 3, 100} {
		for page := 1; page <= 3; page++ {
			result, err := env.service.History(ctx, filter, page, pageSize)
			require.NoError(t, err)
			assert.Equal(t, want, result.Summary, "page=%d size=%d", page, pageSize)
		}
	}

	result, err := env.service.History(ctx, filter, 2, 3)
	require.NoError(t, err)
	require.Len(t, result.Sessions, 3)
	assert.True(t, !result.Sessions[0].StartedAt.Before(result.Sessions[1].StartedAt), "newest first")

	result, err = env.service.History(ctx, HistoryFilter{Statuses: []Status{StatusEnded, StatusExpired}}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Summary.TotalSessions)
	assert.Equal(t, 0, result.Summary.ActiveSessions)
	assert.Len(t, result.Sessions, 3)

	result, err = env.service.History(ctx, HistoryFilter{TargetClientID: "C9", AdminID: "A2"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summary.ActiveSessions)
}

func TestHistory_TimeRangeAndValidation(t *testing.T) {
	env := setupService(t, NewInMemoryRepository())
	ctx := context.Background()

	env.start(t, "A1", "C1", 5)
	env.clock.Advance(time.Hour)
	mid := env.clock.Now()
	env.start(t, "A1", "C2", 5)

	result, err := env.service.History(ctx, HistoryFilter{From: &mid}, 1, 10)
	require.NoError(t, err)
	require.Len(t, result.Sessions, 1)
	assert.Equal(t, "C2", result.Sessions[0].TargetClientID)

	early := mid.Add(-time.Minute)
	result, err = env.service.History(ctx, HistoryFilter{To: &early}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summary.TotalSessions)

	_, err = env.service.History(ctx, HistoryFilter{From: &mid, To: &early}, 1, 10)
	assert.True(t, errors.IsValidation(err))

	_, err = env.service.History(ctx, HistoryFilter{Statuses: []Status{"paused"}}, 1, 10)
	assert.True(t, errors.IsValidation(err))

	_, err = env.service.History(ctx, HistoryFilter{}, 1, 0)
	assert.True(t, errors.IsValidation(err))
}

func TestTrackerInvalidatedOnEndAndExpiry(t *testing.T) {
	env := setupService(t, NewInMemoryRepository())
	ctx := context.Background()

	ended := env.start(t, "A1", "C1", 30)
	expired := env.start(t, "A1", "C2", 5)

	_, found, err := env.tracker.GetSession(ctx, sessions.ImpersonationKey(ended.ID.String()))
	require.NoError(t, err)
	require.True(t, found, "start tracks the impersonated context")

	_, err = env.service.End(ctx, EndRequest{SessionID: ended.ID, EndedBy: "A1"})
	require.NoError(t, err)
	_, found, err = env.tracker.GetSession(ctx, sessions.ImpersonationKey(ended.ID.String()))
	require.NoError(t, err)
	assert.False(t, found)

	env.clock.Advance(6 * time.Minute)
	_, err = env.service.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	_, found, err = env.tracker.GetSession(ctx, sessions.ImpersonationKey(expired.ID.String()))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMetrics(t *testing.T) {
	env := setupService(t, NewInMemoryRepository())
	ctx := context.Background()

	a := env.start(t, "A1", "C1", 5)
	env.start(t, "A1", "C2", 5)
	env.start(t, "A1", "C3", 60)
	_, err := env.service.End(ctx, EndRequest{SessionID: a.ID, EndedBy: "A1"})
	require.NoError(t, err)
	env.clock.Advance(6 * time.Minute)
	_, err = env.service.CleanupExpiredSessions(ctx)
	require.NoError(t, err)

	value := func(c prometheus.Metric) float64 {
		m := &dto.Metric{}
		require.NoError(t, c.Write(m))
		if m.Counter != nil {
			return m.GetCounter().GetValue()
		}
		return m.GetGauge().GetValue()
	}

	m := env.metrics.Impersonation
	assert.Equal(t, float64(3), value(m.Transitions.WithLabelValues("active")))
	assert.Equal(t, float64(1), value(m.Transitions.WithLabelValues("ended")))
	assert.Equal(t, float64(1), value(m.Transitions.WithLabelValues("expired")))
	assert.Equal(t, float64(1), value(m.Active))
	assert.Equal(t, float64(1), value(m.SweepExpired))
}

// flakySummaryRepository fails Summarize while broken is set.
type flakySummaryRepository struct {
	*InMemoryRepository
	broken atomic.Bool
}

func (r *flakySummaryRepository) Summarize(ctx context.Context, filter HistoryFilter) (Summary, error) {
	if r.broken.Load() {
		return Summary{}, stderrors.New("summary unavailable")
	}
	return r.InMemoryRepository.Summarize(ctx, filter)
}

func TestSweepKeepsActiveGaugeWhenCountFails(t *testing.T) {
	repo := &flakySummaryRepository{InMemoryRepository: NewInMemoryRepository()}
	env := setupService(t, repo)
	ctx := context.Background()

	env.start(t, "A1", "C1", 5)
	env.start(t, "A1", "C2", 60)
	_, err := env.service.CleanupExpiredSessions(ctx)
	require.NoError(t, err)

	m := env.metrics.Impersonation
	gauge := &dto.Metric{}
	require.NoError(t, m.Active.Write(gauge))
	require.Equal(t, float64(2), gauge.GetGauge().GetValue())

	repo.broken.Store(true)
	env.clock.Advance(6 * time.Minute)
	expired, err := env.service.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	require.NoError(t, m.Active.Write(gauge))
	assert.Equal(t, float64(2), gauge.GetGauge().GetValue())

	counter := &dto.Metric{}
	require.NoError(t, m.SweepExpired.Write(counter))
	assert.Equal(t, float64(1), counter.GetCounter().GetValue())

	hist := &dto.Metric{}
	require.NoError(t, m.SweepDuration.Write(hist))
	assert.Equal(t, uint64(2), hist.GetHistogram().GetSampleCount())
}

func TestConcurrentSweepsExpireOnce(t *testing.T) {
	env := setupService(t, NewInMemoryRepository())
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		env.start(t, "A1", "C9", 1)
	}
	env.clock.Advance(2 * time.Minute)

	var total atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := env.service.CleanupExpiredSessions(ctx)
			assert.NoError(t, err)
			total.Add(int64(n))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(20), total.Load())
	assert.Len(t, env.auditEntries(t, audit.ActionImpersonationExpired), 20)
}

func TestConcurrentEndAndSweep(t *testing.T) {
	env := setupService(t, NewInMemoryRepository())
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 20; i++ {
		ids = append(ids, env.start(t, "A1", "C9", 1).ID)
	}
	env.clock.Advance(2 * time.Minute)

	var ended, conflicts, swept atomic.Int64
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := env.service.End(ctx, EndRequest{SessionID: id, EndedBy: "A1"})
			switch {
			case err == nil:
				ended.Add(1)
			case errors.IsCode(err, errors.ErrCodeConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := env.service.CleanupExpiredSessions(ctx)
			assert.NoError(t, err)
			swept.Add(int64(n))
		}()
	}
	wg.Wait()

	// Every session left active exactly once.
	assert.Equal(t, int64(20), ended.Load()+swept.Load())
	assert.Equal(t, conflicts.Load(), swept.Load())

	result, err := env.service.History(ctx, HistoryFilter{}, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Summary.ActiveSessions)
	for _, s := range result.Sessions {
		assertTerminalFields(t, s)
	}
	auditTotal := len(env.auditEntries(t, audit.ActionImpersonationEnded)) + len(env.auditEntries(t, audit.ActionImpersonationExpired))
	assert.Equal(t, 20, auditTotal)
}

func TestSweepStopsOnCancelledContext(t *testing.T) {
	env := setupService(t, NewInMemoryRepository())
	env.start(t, "A1", "C9", 1)
	env.clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := env.service.CleanupExpiredSessions(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, n)

	// The next sweep picks it up.
	n, err = env.service.CleanupExpiredSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
