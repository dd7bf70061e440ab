// Package config loads and validates the portal configuration.
//
// All settings come from environment variables (optionally seeded from a .env
// file) and are read with cleanenv into the Config struct:
//
//	cfg, err := config.Load()
//	if err != nil {
//		slog.Error("Invalid configuration", "error", err)
//		os.Exit(1)
//	}
//
// Each group exposes Validate() ValidationErrors so Load can report every
// problem at once:
//
//	PORTAL_PORT: port must be between 1 and 65535
//	IMPERSONATION_DEFAULT_DURATION_MINUTES: must be between 1 and 480, got 600
//
// Main variables:
//   - PORTAL_STORE: postgres (default) or memory
//   - IMPERSONATION_MIN_DURATION_MINUTES / IMPERSONATION_MAX_DURATION_MINUTES: 1 / 480
//   - IMPERSONATION_SINGLE_ACTIVE: reject a second active session per admin (default false)
//   - IMPERSONATION_SWEEP_SCHEDULE: cron spec for the expiry sweep (default "@every 1m")
//   - SESSION_IDLE_TIMEOUT: idle threshold for the session tracker (default 30m)
//   - SESSION_TRACKER_BACKEND: memory (default) or redis
//   - CAPABILITY_*_ROLES: role lists granting each capability
package config
