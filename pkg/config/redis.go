package config

// RedisConfig holds the connection settings for the Redis-backed session tracker.
type RedisConfig struct {
	Addr      string `env:"PORTAL_REDIS_ADDR" env-default:"localhost:6379"`
	Password  string `env:"PORTAL_REDIS_PASSWORD"`
	DB        int    `env:"PORTAL_REDIS_DB" env-default:"0"`
	KeyPrefix string `env:"PORTAL_REDIS_KEY_PREFIX" env-default:"portal:"`
}
