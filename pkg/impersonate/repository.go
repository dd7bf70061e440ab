package impersonate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound     = errors.New("impersonation session not found")
	ErrSessionNotActive    = errors.New("impersonation session is not active")
	ErrActiveSessionExists = errors.New("admin already has an active impersonation session")
)

// CreateOptions controls Repository.Create.
type CreateOptions struct {
	// SingleActive rejects the insert with ErrActiveSessionExists when the
	// admin already has an active session that has not passed expires_at
	// at Now.
	SingleActive bool
	Now          time.Time
}

// Transition describes a move out of active.
type Transition struct {
	To        Status
	EndedAt   time.Time
	EndedBy   string
	EndReason string
}

// Repository stores impersonation sessions.
type Repository interface {
	// Create inserts a new active session.
	Create(ctx context.Context, session Session, opts CreateOptions) error

	// GetByID returns ErrSessionNotFound for unknown ids.
	GetByID(ctx context.Context, id uuid.UUID) (Session, error)

	// List returns matching sessions ordered by started_at descending.
	List(ctx context.Context, filter HistoryFilter, limit, offset int) ([]Session, error)

	// Summarize counts every matching session by status.
	Summarize(ctx context.Context, filter HistoryFilter) (Summary, error)

	// Transition atomically applies t only if the session is still active.
	// It returns ErrSessionNotFound or ErrSessionNotActive otherwise.
	Transition(ctx context.Context, id uuid.UUID, t Transition) (Session, error)

	// ListExpired returns active sessions whose expires_at is before now.
	ListExpired(ctx context.Context, now time.Time) ([]Session, error)
}
