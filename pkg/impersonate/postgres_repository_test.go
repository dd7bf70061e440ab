package impersonate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-portal/pkg/errors"
)

func setupPostgresRepository(t *testing.T) *PostgresRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping PostgreSQL test in short mode")
	}
	return NewPostgresRepository(pg.FreshPool(t))
}

func newSession(admin, client string, startedAt time.Time, d time.Duration) Session {
	return Session{
		ID:             uuid.New(),
		AdminID:        admin,
		AdminEmail:     admin + "@example.com",
		TargetClientID: client,
		Reason:         "support ticket #42",
		Status:         StatusActive,
		StartedAt:      startedAt,
		ExpiresAt:      startedAt.Add(d),
	}
}

func TestPostgresRepository_CreateAndGet(t *testing.T) {
	repo := setupPostgresRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	s := newSession("A1", "C9", now, 30*time.Minute)
	require.NoError(t, repo.Create(ctx, s, CreateOptions{Now: now}))

	got, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, StatusActive, got.Status)
	assert.True(t, s.ExpiresAt.Equal(got.ExpiresAt))
	assert.Nil(t, got.EndedAt)
	assert.Empty(t, got.EndedBy)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPostgresRepository_Transition(t *testing.T) {
	repo := setupPostgresRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	s := newSession("A1", "C9", now, 30*time.Minute)
	require.NoError(t, repo.Create(ctx, s, CreateOptions{Now: now}))

	ended, err := repo.Transition(ctx, s.ID, Transition{To: StatusEnded, EndedAt: now.Add(time.Minute), EndedBy: "A1", EndReason: "resolved"})
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)
	assert.Equal(t, "resolved", ended.EndReason)

	current, err := repo.Transition(ctx, s.ID, Transition{To: StatusExpired, EndedAt: now.Add(time.Hour), EndedBy: SystemActor, EndReason: ExpiredReason})
	assert.ErrorIs(t, err, ErrSessionNotActive)
	assert.Equal(t, StatusEnded, current.Status, "the current state is returned on conflict")

	_, err = repo.Transition(ctx, uuid.New(), Transition{To: StatusEnded, EndedAt: now, EndedBy: "A1"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPostgresRepository_ListSummarizeExpired(t *testing.T) {
	repo := setupPostgresRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	a := newSession("A1", "C1", now.Add(-3*time.Hour), time.Hour)
	b := newSession("A1", "C2", now.Add(-2*time.Hour), 4*time.Hour)
	c := newSession("A2", "C1", now.Add(-time.Hour), 30*time.Minute)
	d := newSession("A1", "C3", now, time.Hour)
	for _, s := range []Session{a, b, c, d} {
		require.NoError(t, repo.Create(ctx, s, CreateOptions{Now: now}))
	}
	_, err := repo.Transition(ctx, b.ID, Transition{To: StatusEnded, EndedAt: now, EndedBy: "A1", EndReason: DefaultEndReason})
	require.NoError(t, err)

	expired, err := repo.ListExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, a.ID, expired[0].ID, "earliest expiry first")
	assert.Equal(t, c.ID, expired[1].ID)

	list, err := repo.List(ctx, HistoryFilter{AdminID: "A1"}, 2, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, d.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)

	list, err = repo.List(ctx, HistoryFilter{AdminID: "A1"}, 2, 2)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)

	summary, err := repo.Summarize(ctx, HistoryFilter{AdminID: "A1"})
	require.NoError(t, err)
	assert.Equal(t, Summary{TotalSessions: 3, ActiveSessions: 2, EndedSessions: 1}, summary)

	from := now.Add(-90 * time.Minute)
	list, err = repo.List(ctx, HistoryFilter{TargetClientID: "C1", From: &from}, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, c.ID, list[0].ID)

	summary, err = repo.Summarize(ctx, HistoryFilter{Statuses: []Status{StatusEnded, StatusExpired}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalSessions)
}

func TestPostgresRepository_SingleActive(t *testing.T) {
	repo := setupPostgresRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	var created, rejected atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Create(ctx, newSession("A1", "C9", now, time.Hour), CreateOptions{SingleActive: true, Now: now})
			switch {
			case err == nil:
				created.Add(1)
			case assert.ErrorIs(t, err, ErrActiveSessionExists):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), created.Load())
	assert.Equal(t, int64(9), rejected.Load())

	// A session past expiry does not block, even before it is swept.
	later := now.Add(2 * time.Hour)
	require.NoError(t, repo.Create(ctx, newSession("A1", "C10", later, time.Hour), CreateOptions{SingleActive: true, Now: later}))
}

func TestPostgresRepository_ConcurrentTransitions(t *testing.T) {
	repo := setupPostgresRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	s := newSession("A1", "C9", now, time.Minute)
	require.NoError(t, repo.Create(ctx, s, CreateOptions{Now: now}))

	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := StatusEnded
			if i%2 == 0 {
				to = StatusExpired
			}
			_, err := repo.Transition(ctx, s.ID, Transition{To: to, EndedAt: now, EndedBy: "A1"})
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, ErrSessionNotActive)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(1), wins.Load())
}

func TestService_WithPostgres(t *testing.T) {
	env := setupService(t, setupPostgresRepository(t))
	ctx := context.Background()

	// Postgres stores microseconds.
	env.clock.now = env.clock.now.Truncate(time.Microsecond)

	session := env.start(t, "A1", "C9", 5)
	env.clock.Advance(6 * time.Minute)

	n, err := env.service.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = env.service.End(ctx, EndRequest{SessionID: session.ID, EndedBy: "A1"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))

	got, err := env.service.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
	assert.Equal(t, SystemActor, got.EndedBy)
}
