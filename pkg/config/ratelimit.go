package config

// RateLimitConfig throttles mutating admin operations per principal.
type RateLimitConfig struct {
	Enabled bool    `env:"RATELIMIT_ADMIN_ENABLED" env-default:"true"`
	Burst   int     `env:"RATELIMIT_ADMIN_BURST" env-default:"10"`
	PerSec  float64 `env:"RATELIMIT_ADMIN_PER_SECOND" env-default:"0.5"` // ~30 per minute
}

// Validate checks the rate limit configuration.
func (c RateLimitConfig) Validate() ValidationErrors {
	if !c.Enabled {
		return nil
	}
	errs := CollectErrors(RequirePositive("RATELIMIT_ADMIN_BURST", c.Burst))
	if c.PerSec <= 0 {
		errs = append(errs, ValidationError{Field: "RATELIMIT_ADMIN_PER_SECOND", Message: "must be positive"})
	}
	return errs
}
