package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all service settings, loaded from environment variables.
type Config struct {
	Addr  string `env:"TASKHIVE_ADDR" envDefault:":8080"`
	PGDSN string `env:"TASKHIVE_PG_DSN"`

	AuthSecret string        `env:"TASKHIVE_AUTH_SECRET"`
	CookieName string        `env:"TASKHIVE_COOKIE_NAME" envDefault:"session_id"`
	SessionTTL time.Duration `env:"TASKHIVE_SESSION_TTL" envDefault:"720h"`
	CodeTTL    time.Duration `env:"TASKHIVE_CODE_TTL" envDefault:"5m"`

	Debug         bool `env:"TASKHIVE_DEBUG" envDefault:"false"`
	GreetingTodos bool `env:"TASKHIVE_GREETING_TODOS" envDefault:"true"`

	RateBurst    int   `env:"TASKHIVE_RATE_BURST" envDefault:"20"`
	RatePerSec   int   `env:"TASKHIVE_RATE_PER_SEC" envDefault:"10"`
	MaxBodyBytes int64 `env:"TASKHIVE_MAX_BODY_BYTES" envDefault:"1048576"`
}

// Load parses configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants that env parsing cannot express.
func (c Config) Validate() error {
	if c.AuthSecret == "" {
		return errors.New("config: TASKHIVE_AUTH_SECRET is required")
	}
	if c.SessionTTL <= 0 {
		return errors.New("config: session ttl must be positive")
	}
	if c.CodeTTL <= 0 {
		return errors.New("config: code ttl must be positive")
	}
	if c.CookieName == "" {
		return errors.New("config: cookie name must not be empty")
	}
	return nil
}
