package config

import "time"

// SessionTimeoutConfig contains idle-tracking settings for authenticated principals.
type SessionTimeoutConfig struct {
	// IdleTimeout marks a principal inactive once no activity was recorded for this long.
	IdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" env-default:"30m"`

	// Backend selects the tracker implementation: "memory" (lost on restart) or "redis".
	Backend string `env:"SESSION_TRACKER_BACKEND" env-default:"memory"`
}

// Validate checks the session timeout configuration.
func (c SessionTimeoutConfig) Validate() ValidationErrors {
	return CollectErrors(
		RequirePositiveDuration("SESSION_IDLE_TIMEOUT", c.IdleTimeout),
		RequireOneOf("SESSION_TRACKER_BACKEND", c.Backend, []string{"memory", "redis"}),
	)
}
