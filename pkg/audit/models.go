package audit

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Action is an enumerated security action. Unknown values are stored as-is.
type Action string

const (
	ActionImpersonationStarted  Action = "IMPERSONATION_STARTED"
	ActionImpersonationEnded    Action = "IMPERSONATION_ENDED"
	ActionImpersonationExpired  Action = "IMPERSONATION_EXPIRED"
	ActionAuditLogsCleared      Action = "AUDIT_LOGS_CLEARED"
	ActionAuditStatisticsViewed Action = "AUDIT_STATISTICS_VIEWED"
	ActionDataExport            Action = "DATA_EXPORT"
	ActionConfigChange          Action = "CONFIG_CHANGE"
	ActionLogin                 Action = "LOGIN"
	ActionLogout                Action = "LOGOUT"
	ActionUnknown               Action = "UNKNOWN"
)

// Severity of an audit entry.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Result of the audited action.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// RequestContext is whatever the transport could tell us about the caller.
type RequestContext struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// IsZero reports whether neither field is known.
func (rc RequestContext) IsZero() bool {
	return rc.IPAddress == "" && rc.UserAgent == ""
}

// Entry is one immutable audit log record.
type Entry struct {
	ID             uuid.UUID         `json:"id"`
	Action         Action            `json:"action"`
	Severity       Severity          `json:"severity"`
	ActorID        string            `json:"actor_id"`
	ActorEmail     string            `json:"actor_email,omitempty"`
	ActorName      string            `json:"actor_name,omitempty"`
	Description    string            `json:"description"`
	Result         Result            `json:"result"`
	OccurredAt     time.Time         `json:"occurred_at"`
	RequestContext RequestContext    `json:"request_context"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Event is the input to LogSecurity.
type Event struct {
	Action         Action
	ActorID        string
	ActorEmail     string
	ActorName      string
	Description    string
	Severity       Severity
	RequestContext RequestContext
	Result         Result
	Metadata       map[string]string
}

// Statistics is a point-in-time aggregation over all stored entries.
type Statistics struct {
	Total       int            `json:"total"`
	ByAction    map[string]int `json:"by_action"`
	BySeverity  map[string]int `json:"by_severity"`
	ByResult    map[string]int `json:"by_result"`
	Last24h     int            `json:"last_24h"`
	Last7d      int            `json:"last_7d"`
	Last30d     int            `json:"last_30d"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// Windows are the trailing periods reported in Statistics.
var Windows = struct {
	Day, Week, Month time.Duration
}{
	Day:   24 * time.Hour,
	Week:  7 * 24 * time.Hour,
	Month: 30 * 24 * time.Hour,
}

// ListFilter narrows List. Empty fields match everything.
type ListFilter struct {
	Actions    []Action
	Severities []Severity
	ActorID    string
	From       *time.Time
	To         *time.Time
}

// Matches reports whether e passes the filter.
func (f ListFilter) Matches(e Entry) bool {
	if len(f.Actions) > 0 && !slices.Contains(f.Actions, e.Action) {
		return false
	}
	if len(f.Severities) > 0 && !slices.Contains(f.Severities, e.Severity) {
		return false
	}
	if f.ActorID != "" && f.ActorID != e.ActorID {
		return false
	}
	if f.From != nil && e.OccurredAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.OccurredAt.After(*f.To) {
		return false
	}
	return true
}

// Page is one page of List results plus the filtered total.
type Page struct {
	Entries  []Entry `json:"entries"`
	Total    int     `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
}

// ClearResult describes a completed clear.
type ClearResult struct {
	Removed  int64     `json:"removed"`
	MarkerID uuid.UUID `json:"marker_id"`
}
