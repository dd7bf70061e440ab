// Package audit is the append-only security audit log.
//
// Entries are written through Service.LogSecurity, which never fails the
// caller: a store failure is logged and counted, and the primary operation
// carries on. Statistics are computed from entry timestamps on every call.
//
//	svc := audit.NewService(repo, audit.WithMetrics(m.Audit))
//	svc.LogSecurity(ctx, audit.Event{
//		Action:   audit.ActionImpersonationStarted,
//		ActorID:  admin.UserID,
//		Severity: audit.SeverityHigh,
//	})
//
// ClearLogs is only compiled into non-production builds; see clear_enabled.go
// and clear_disabled.go.
package audit
