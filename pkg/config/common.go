package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// GetEnvOrDefault retrieves an environment variable or returns a default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Environment represents different deployment environments
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
	Test        Environment = "test"
)

// GetEnvironment returns the current environment from APP_ENV or defaults to development
func GetEnvironment() Environment {
	switch GetEnvOrDefault("APP_ENV", "development") {
	case "production", "prod":
		return Production
	case "staging", "stage":
		return Staging
	case "test", "testing":
		return Test
	default:
		return Development
	}
}

// IsProduction returns true if running in production environment
func IsProduction() bool {
	return GetEnvironment() == Production
}

// Config is the complete portal configuration read from the environment.
type Config struct {
	Server        ServerConfig
	Log           LogConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Capabilities  CapabilityConfig
	Impersonation ImpersonationConfig
	Session       SessionTimeoutConfig
	Audit         AuditConfig
	RateLimit     RateLimitConfig
}

// Load reads an optional .env file, then the environment, and validates the result.
func Load() (Config, error) {
	LoadEnvFile()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every configuration group.
func (c Config) Validate() error {
	return Validate(
		c.Server.Validate,
		c.Log.Validate,
		c.Database.Validate,
		c.Impersonation.Validate,
		c.Session.Validate,
		c.Audit.Validate,
		c.RateLimit.Validate,
	)
}

// LoadEnvFile loads .env from the executable directory or the working directory if present.
func LoadEnvFile() {
	candidates := []string{}
	if execPath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(execPath), ".env"))
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, ".env"))
	}

	for _, envFile := range candidates {
		if _, err := os.Stat(envFile); err != nil {
			continue
		}
		slog.Info("Loading configuration from .env file", "path", envFile)
		if err := godotenv.Load(envFile); err != nil {
			slog.Warn("Failed to load .env file", "error", err, "path", envFile)
		}
		return
	}
	slog.Debug("No .env file found (using environment variables or defaults)")
}

// splitAndTrim splits a comma-separated value, dropping empty parts
func splitAndTrim(s string) []string {
	var parts []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            uint16        `env:"PORTAL_PORT" env-default:"4000"`
	AdminPrefix     string        `env:"PORTAL_ADMIN_PREFIX" env-default:"/api/admin"`
	ShutdownTimeout time.Duration `env:"PORTAL_SHUTDOWN_TIMEOUT" env-default:"10s"`
	Store           string        `env:"PORTAL_STORE" env-default:"postgres"`
}

// Validate checks the server configuration.
func (s ServerConfig) Validate() ValidationErrors {
	return CollectErrors(
		RequireValidPort("PORTAL_PORT", s.Port),
		RequireNonEmpty("PORTAL_ADMIN_PREFIX", s.AdminPrefix),
		RequireOneOf("PORTAL_STORE", s.Store, []string{"postgres", "memory"}),
	)
}
