package config

// JWTConfig holds the settings used to verify admin access tokens.
type JWTConfig struct {
	Secret   string `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`
	Issuer   string `env:"JWT_ISSUER" env-default:"simple-portal"`
	Audience string `env:"JWT_AUDIENCE" env-default:"simple-portal"`
}
