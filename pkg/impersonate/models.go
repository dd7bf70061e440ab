package impersonate

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Status of an impersonation session.
type Status string

const (
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
	StatusExpired Status = "expired"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusEnded, StatusExpired:
		return true
	}
	return false
}

const (
	// SystemActor is recorded as ended_by when the sweep expires a session.
	SystemActor = "system"
	// DefaultEndReason is used when End is called without a reason.
	DefaultEndReason = "manual end"
	// ExpiredReason is recorded as end_reason by the sweep.
	ExpiredReason = "expired"
)

// Session is one impersonation grant. Sessions are never deleted.
type Session struct {
	ID             uuid.UUID  `json:"id"`
	AdminID        string     `json:"admin_id"`
	AdminEmail     string     `json:"admin_email"`
	TargetClientID string     `json:"target_client_id"`
	Reason         string     `json:"reason"`
	Status         Status     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	EndedBy        string     `json:"ended_by,omitempty"`
	EndReason      string     `json:"end_reason,omitempty"`
}

// IsActive reports whether the session is still in the active state.
func (s Session) IsActive() bool {
	return s.Status == StatusActive
}

// IsPastExpiry reports whether now is after expires_at.
func (s Session) IsPastExpiry(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Remaining returns the time left before expiry, or zero.
func (s Session) Remaining(now time.Time) time.Duration {
	if d := s.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// StartRequest is the input to Service.Start.
type StartRequest struct {
	AdminID         string
	AdminEmail      string
	TargetClientID  string
	Reason          string
	DurationMinutes int
}

// EndRequest is the input to Service.End.
type EndRequest struct {
	SessionID    uuid.UUID
	EndedBy      string
	EndedByEmail string
	Reason       string
}

// EndResult is returned by a successful End.
type EndResult struct {
	Message string  `json:"message"`
	Session Session `json:"session"`
}

// HistoryFilter narrows History. Empty fields match everything. From and To
// bound started_at.
type HistoryFilter struct {
	AdminID        string
	TargetClientID string
	Statuses       []Status
	From           *time.Time
	To             *time.Time
}

// Matches reports whether s passes the filter.
func (f HistoryFilter) Matches(s Session) bool {
	if f.AdminID != "" && s.AdminID != f.AdminID {
		return false
	}
	if f.TargetClientID != "" && s.TargetClientID != f.TargetClientID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, s.Status) {
		return false
	}
	if f.From != nil && s.StartedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && s.StartedAt.After(*f.To) {
		return false
	}
	return true
}

// Summary counts sessions across a whole filtered set.
type Summary struct {
	TotalSessions   int `json:"total_sessions"`
	ActiveSessions  int `json:"active_sessions"`
	EndedSessions   int `json:"ended_sessions"`
	ExpiredSessions int `json:"expired_sessions"`
}

// Add counts one session.
func (s *Summary) Add(status Status) {
	s.TotalSessions++
	switch status {
	case StatusActive:
		s.ActiveSessions++
	case StatusEnded:
		s.EndedSessions++
	case StatusExpired:
		s.ExpiredSessions++
	}
}

// HistoryPage is one page of sessions plus the summary of the full filtered set.
type HistoryPage struct {
	Sessions []Session `json:"sessions"`
	Summary  Summary   `json:"summary"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}

// ActiveView is the caller's active sessions with their overall summary.
type ActiveView struct {
	Sessions []Session `json:"sessions"`
	Summary  Summary   `json:"summary"`
}
