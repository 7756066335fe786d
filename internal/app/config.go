package app

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	AuthEnabled            bool     `envconfig:"AUTH_ENABLED" default:"false"`
	GoogleClientID         string   `envconfig:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret     string   `envconfig:"GOOGLE_CLIENT_SECRET"`
	GoogleOAuthRedirectURI string   `envconfig:"GOOGLE_OAUTH_REDIRECT_URI" default:"http://localhost:8080/auth/callback"`
	AllowedDomains         []string `envconfig:"AUTH_ALLOWED_DOMAINS"`
	SessionTimeoutMinutes  int      `envconfig:"SESSION_TIMEOUT_MINUTES" default:"480"`
	// JWTSecretKey signs credentials. When empty a random key is generated
	// and every credential dies with the process.
	JWTSecretKey string        `envconfig:"JWT_SECRET_KEY"`
	OAuthTimeout time.Duration `envconfig:"OAUTH_TIMEOUT" default:"10s"`

	RedisURL string `envconfig:"REDIS_URL"`
	PGDSN    string `envconfig:"PG_DSN"`

	RateLimitPerMinute int  `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
	JobsEnabled        bool `envconfig:"JOBS_ENABLED" default:"false"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.SessionTimeoutMinutes <= 0 {
		return errors.New("SESSION_TIMEOUT_MINUTES must be positive")
	}
	if c.RateLimitPerMinute < 0 {
		return errors.New("RATE_LIMIT_PER_MINUTE must not be negative")
	}
	if c.AuthEnabled && (c.GoogleClientID == "" || c.GoogleClientSecret == "") {
		return errors.New("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required when AUTH_ENABLED is set")
	}
	if c.JobsEnabled && c.RedisURL == "" {
		return errors.New("REDIS_URL is required when JOBS_ENABLED is set")
	}
	domains := c.AllowedDomains[:0]
	for _, d := range c.AllowedDomains {
		if d = strings.TrimSpace(d); d != "" {
			domains = append(domains, d)
		}
	}
	c.AllowedDomains = domains
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// SessionTTL is the server-side session lifetime.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTimeoutMinutes) * time.Minute
}

// SigningSecret returns the configured signing key, generating a random one
// when none is set.
func (c *Config) SigningSecret(logger *slog.Logger) ([]byte, error) {
	if c.JWTSecretKey != "" {
		return []byte(c.JWTSecretKey), nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate signing secret: %w", err)
	}
	if logger != nil {
		logger.Warn("JWT_SECRET_KEY not set, using a random key; credentials will not survive a restart")
	}
	return secret, nil
}
