//go:build !production

package audit

// ClearSupported reports whether this build can clear the audit log.
const ClearSupported = true
