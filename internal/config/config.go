// Package config loads the demo server configuration from the environment.
package config

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"

	"nksdk/pkg/nk"
)

// Secret is a value that may be given plain or as "base64:<encoded>".
// The base64 form avoids shell escaping problems for binary keys.
type Secret string

func (s *Secret) UnmarshalText(text []byte) error {
	value := string(text)
	if strings.HasPrefix(value, "base64:") {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, "base64:"))
		if err != nil {
			return fmt.Errorf("invalid base64 encoding: %w", err)
		}
		value = string(decoded)
	}
	*s = Secret(value)
	return nil
}

// Config is the demo server configuration
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	// DatabaseURL enables Postgres-backed sessions when set
	DatabaseURL string `env:"DATABASE_URL"`

	// SessionSecret signs session cookies, at least 32 bytes
	SessionSecret Secret `env:"SESSION_SECRET,required,notEmpty"`

	// AllowedOrigins may call the JSON endpoints from browsers
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// RateLimit is the number of login attempts per IP per minute
	RateLimit int `env:"LOGIN_RATE_LIMIT" envDefault:"10"`

	NK nk.Config
}

// Load parses the environment
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse configuration: %w", err)
	}
	cfg.NK = cfg.NK.WithDefaults()
	return cfg, nil
}
