package config

import "fmt"

// ImpersonationConfig bounds impersonation sessions and configures the expiry sweep.
type ImpersonationConfig struct {
	MinDurationMinutes     int    `env:"IMPERSONATION_MIN_DURATION_MINUTES" env-default:"1"`
	MaxDurationMinutes     int    `env:"IMPERSONATION_MAX_DURATION_MINUTES" env-default:"480"`
	DefaultDurationMinutes int    `env:"IMPERSONATION_DEFAULT_DURATION_MINUTES" env-default:"60"`
	SingleActivePerAdmin   bool   `env:"IMPERSONATION_SINGLE_ACTIVE" env-default:"false"`
	SweepSchedule          string `env:"IMPERSONATION_SWEEP_SCHEDULE" env-default:"@every 1m"`
	SweepEnabled           bool   `env:"IMPERSONATION_SWEEP_ENABLED" env-default:"true"`
}

// DefaultImpersonationConfig returns the built-in bounds.
func DefaultImpersonationConfig() ImpersonationConfig {
	return ImpersonationConfig{
		MinDurationMinutes:     1,
		MaxDurationMinutes:     480,
		DefaultDurationMinutes: 60,
		SweepSchedule:          "@every 1m",
		SweepEnabled:           true,
	}
}

// Validate checks the impersonation configuration.
func (c ImpersonationConfig) Validate() ValidationErrors {
	errs := CollectErrors(
		RequirePositive("IMPERSONATION_MIN_DURATION_MINUTES", c.MinDurationMinutes),
		RequirePositive("IMPERSONATION_MAX_DURATION_MINUTES", c.MaxDurationMinutes),
		RequireInRange("IMPERSONATION_DEFAULT_DURATION_MINUTES", c.DefaultDurationMinutes, c.MinDurationMinutes, c.MaxDurationMinutes),
	)
	if c.MinDurationMinutes > c.MaxDurationMinutes {
		errs = append(errs, ValidationError{
			Field:   "IMPERSONATION_MIN_DURATION_MINUTES",
			Message: fmt.Sprintf("must not exceed max duration %d", c.MaxDurationMinutes),
		})
	}
	if c.SweepEnabled {
		errs = append(errs, CollectErrors(RequireNonEmpty("IMPERSONATION_SWEEP_SCHEDULE", c.SweepSchedule))...)
	}
	return errs
}
