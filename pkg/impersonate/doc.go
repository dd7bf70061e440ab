// Package impersonate owns the lifecycle of admin impersonation sessions.
//
// A session starts active and leaves that state exactly once: to ended
// through Service.End, or to expired through Service.CleanupExpiredSessions
// once its fixed expires_at has passed. Both transitions are conditional
// updates in the store, so concurrent callers cannot both win. End reports a
// lost race as a conflict; the sweep skips it.
//
// Every transition is recorded in the audit log before the call returns.
// Audit failures never undo a transition.
package impersonate
