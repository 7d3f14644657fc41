package nk

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
)

// LoginMode selects how the login button opens the provider's login page
type LoginMode int

const (
	LoginModeWindow LoginMode = 1
	LoginModePopup  LoginMode = 2
)

// Default provider endpoints
const (
	DefaultLoginURL   = "https://nk.pl/oauth2/login"
	DefaultTokenURL   = "https://nk.pl/oauth2/token"
	DefaultAPIBaseURL = "http://opensocial.nk-net.pl/v09/social/rest"
	DefaultImageURL   = "nk.pl/img/oauth2/connect"
)

var secretPattern = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`)

// Config is the immutable application configuration shared by the auth
// state machine and the signed request builder. Pass it by value.
type Config struct {
	// Key is the application's client id
	Key string `env:"NK_KEY"`
	// Secret is the application's client secret, a lowercase UUID
	Secret string `env:"NK_SECRET"`
	// Permissions requested during login
	Permissions []Permission `env:"NK_PERMISSIONS" envSeparator:","`
	// CallbackURL overrides the redirect target. Empty means the current page.
	CallbackURL string    `env:"NK_CALLBACK_URL"`
	LoginMode   LoginMode `env:"NK_LOGIN_MODE" envDefault:"1"`
	// RefreshAhead treats tokens as expired this long before their real expiry
	RefreshAhead time.Duration `env:"NK_REFRESH_AHEAD" envDefault:"0s"`

	LoginURL   string `env:"NK_LOGIN_URL" envDefault:"https://nk.pl/oauth2/login"`
	TokenURL   string `env:"NK_TOKEN_URL" envDefault:"https://nk.pl/oauth2/token"`
	APIBaseURL string `env:"NK_API_BASE_URL" envDefault:"http://opensocial.nk-net.pl/v09/social/rest"`
	ImageURL   string `env:"NK_IMAGE_URL" envDefault:"nk.pl/img/oauth2/connect"`
}

// LoadConfig reads the application configuration from NK_* environment variables
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse NK configuration: %w", err)
	}
	return cfg.WithDefaults(), nil
}

// WithDefaults fills empty endpoints and mode with the production values
func (c Config) WithDefaults() Config {
	if c.LoginURL == "" {
		c.LoginURL = DefaultLoginURL
	}
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = DefaultAPIBaseURL
	}
	if c.ImageURL == "" {
		c.ImageURL = DefaultImageURL
	}
	if c.LoginMode != LoginModePopup {
		c.LoginMode = LoginModeWindow
	}
	if c.RefreshAhead < 0 {
		c.RefreshAhead = 0
	}
	return c
}

// ValidateKey must pass before any network call
func (c Config) ValidateKey() error {
	if strings.TrimSpace(c.Key) == "" {
		return &ConfigError{Field: "key", Reason: "application key is not set"}
	}
	return nil
}

// ValidateSecret must pass before any signed call
func (c Config) ValidateSecret() error {
	if !secretPattern.MatchString(c.Secret) {
		return &ConfigError{Field: "secret", Reason: "application secret is not a valid lowercase UUID"}
	}
	if _, err := uuid.Parse(c.Secret); err != nil {
		return &ConfigError{Field: "secret", Reason: err.Error()}
	}
	return nil
}

// Scope returns the requested permissions joined the way the provider expects
func (c Config) Scope() string {
	parts := make([]string, 0, len(c.Permissions))
	for _, p := range c.Permissions {
		parts = append(parts, string(p))
	}
	return strings.Join(parts, ",")
}

// HasPermission reports whether p was requested
func (c Config) HasPermission(p Permission) bool {
	for _, have := range c.Permissions {
		if have == p {
			return true
		}
	}
	return false
}
