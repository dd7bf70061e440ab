package config

// LogConfig selects the slog handler used by the process.
type LogConfig struct {
	Level     string `env:"LOG_LEVEL" env-default:"info"`
	Format    string `env:"LOG_FORMAT" env-default:"text"`
	AddSource bool   `env:"LOG_ADD_SOURCE" env-default:"false"`
}

// Validate checks the log configuration.
func (c LogConfig) Validate() ValidationErrors {
	return CollectErrors(
		RequireOneOf("LOG_LEVEL", c.Level, []string{"debug", "info", "warn", "error"}),
		RequireOneOf("LOG_FORMAT", c.Format, []string{"text", "json"}),
	)
}
