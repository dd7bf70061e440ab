//go:build production

package audit

// ClearSupported reports whether this build can clear the audit log.
// Production builds keep the audit trail append-only.
const ClearSupported = false
