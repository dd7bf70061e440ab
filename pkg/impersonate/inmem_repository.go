package impersonate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository implements Repository using in-memory storage.
type InMemoryRepository struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]Session
}

// NewInMemoryRepository creates a new in-memory impersonation repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		sessions: make(map[uuid.UUID]Session),
	}
}

func (r *InMemoryRepository) Create(ctx context.Context, session Session, opts CreateOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if opts.SingleActive {
		for _, s := range r.sessions {
			if s.AdminID == session.AdminID && s.IsActive() && !s.IsPastExpiry(opts.Now) {
				return ErrActiveSessionExists
			}
		}
	}
	r.sessions[session.ID] = session
	return nil
}

func (r *InMemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (r *InMemoryRepository) List(ctx context.Context, filter HistoryFilter, limit, offset int) ([]Session, error) {
	r.mu.RLock()
	matched := make([]Session, 0)
	for _, s := range r.sessions {
		if filter.Matches(s) {
			matched = append(matched, s)
		}
	}
	r.mu.RUnlock()

	sortNewestFirst(matched)

	if offset >= len(matched) {
		return []Session{}, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return matched[offset:end], nil
}

func (r *InMemoryRepository) Summarize(ctx context.Context, filter HistoryFilter) (Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var summary Summary
	for _, s := range r.sessions {
		if filter.Matches(s) {
			summary.Add(s.Status)
		}
	}
	return summary, nil
}

func (r *InMemoryRepository) Transition(ctx context.Context, id uuid.UUID, t Transition) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if !s.IsActive() {
		return s, ErrSessionNotActive
	}

	endedAt := t.EndedAt
	s.Status = t.To
	s.EndedAt = &endedAt
	s.EndedBy = t.EndedBy
	s.EndReason = t.EndReason
	r.sessions[id] = s
	return s, nil
}

func (r *InMemoryRepository) ListExpired(ctx context.Context, now time.Time) ([]Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var expired []Session
	for _, s := range r.sessions {
		if s.IsActive() && s.ExpiresAt.Before(now) {
			expired = append(expired, s)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	return expired, nil
}

func sortNewestFirst(sessions []Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].ID.String() > sessions[j].ID.String()
		}
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
}
