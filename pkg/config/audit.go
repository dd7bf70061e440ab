package config

// AuditConfig controls audit listing defaults.
type AuditConfig struct {
	DefaultPageSize int `env:"AUDIT_DEFAULT_PAGE_SIZE" env-default:"50"`
	MaxPageSize     int `env:"AUDIT_MAX_PAGE_SIZE" env-default:"500"`
}

// Validate checks the audit configuration.
func (c AuditConfig) Validate() ValidationErrors {
	return CollectErrors(
		RequirePositive("AUDIT_DEFAULT_PAGE_SIZE", c.DefaultPageSize),
		RequireInRange("AUDIT_MAX_PAGE_SIZE", c.MaxPageSize, c.DefaultPageSize, 10000),
	)
}
