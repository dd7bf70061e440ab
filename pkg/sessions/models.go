package sessions

import (
	"time"
)

// Status is the derived state of a Record.
type Status string

const (
	StatusActive Status = "active"
	StatusIdle   Status = "idle"
)

// Record is one authenticated principal's activity state.
type Record struct {
	UserID         string    `json:"user_id"`
	Email          string    `json:"email,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at"`
	IsActive       bool      `json:"is_active"`
}

// Evaluate returns r with IsActive cleared when the idle timeout has elapsed
// at now.
func (r Record) Evaluate(now time.Time, idleTimeout time.Duration) Record {
	if r.IsActive && now.Sub(r.LastActivityAt) > idleTimeout {
		r.IsActive = false
	}
	return r
}

// Status reports active or idle.
func (r Record) Status() Status {
	if r.IsActive {
		return StatusActive
	}
	return StatusIdle
}

// IdleFor returns how long the principal has been without activity.
func (r Record) IdleFor(now time.Time) time.Duration {
	return now.Sub(r.LastActivityAt)
}

// ImpersonationKey is the tracker key of an impersonated context.
func ImpersonationKey(sessionID string) string {
	return "impersonation:" + sessionID
}
