// Package credstore implements the storage contracts against a hosted rows
// API (PostgREST-style) that owns the profiles, user_2fa, and user_passkeys
// tables. Row-level access control is enforced by the backend, not here.
package credstore

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls the hosted credential store connection.
type Config struct {
	// BaseURL is the rows API root, e.g. https://project.example.co/rest/v1.
	// When empty the process falls back to local SQLite storage.
	BaseURL string `env:"HALLPASS_STORE_URL"`
	// ServiceKey is the static API key sent as the apikey header and, when
	// no signing secret is configured, as the bearer token.
	ServiceKey string `env:"HALLPASS_STORE_SERVICE_KEY"`
	// JWTSecret, when set, is used to mint short-lived HS256 service tokens
	// instead of sending the static key as the bearer.
	JWTSecret string        `env:"HALLPASS_STORE_JWT_SECRET"`
	Timeout   time.Duration `env:"HALLPASS_STORE_TIMEOUT" envDefault:"10s"`
}

// LoadConfigFromEnv returns credential store configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{Timeout: 10 * time.Second}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return cfg
}

// Enabled reports whether remote storage is configured.
func (c Config) Enabled() bool {
	return c.BaseURL != ""
}
