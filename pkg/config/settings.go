// Package config loads the proxy configuration: process settings from the
// environment and the cache policy from a YAML file.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backends selectable with STORE.
const (
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Settings are the process settings read from the environment.
type Settings struct {
	Port        string `env:"PORT" envDefault:"8080"`
	UpstreamURL string `env:"UPSTREAM_URL" envDefault:"http://localhost:1337"`

	Store      string `env:"STORE" envDefault:"memory"`
	RedisURL   string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	RedisDB    int    `env:"REDIS_DB" envDefault:"0"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"rest-cache.db"`

	// PurgeInterval is how often expired rows are removed from the local stores
	PurgeInterval time.Duration `env:"PURGE_INTERVAL" envDefault:"5m"`

	// ConfigFile is the YAML cache policy. Empty means DefaultFile.
	ConfigFile string `env:"CONFIG_FILE"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	UpstreamTimeout    time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"30s"`
	UpstreamMaxRetries int           `env:"UPSTREAM_MAX_RETRIES" envDefault:"3"`
}

// LoadSettings parses and validates Settings from the environment.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks the settings for consistency.
func (s Settings) Validate() error {
	switch s.Store {
	case StoreRedis, StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("STORE must be one of redis, sqlite, memory (got %q)", s.Store)
	}
	if s.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if s.UpstreamURL == "" {
		return fmt.Errorf("UPSTREAM_URL is required")
	}
	if s.RedisDB < 0 {
		return fmt.Errorf("REDIS_DB must be >= 0 (got %d)", s.RedisDB)
	}
	if s.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive (got %s)", s.UpstreamTimeout)
	}
	if s.UpstreamMaxRetries < 1 {
		return fmt.Errorf("UPSTREAM_MAX_RETRIES must be >= 1 (got %d)", s.UpstreamMaxRetries)
	}
	if s.PurgeInterval <= 0 {
		return fmt.Errorf("PURGE_INTERVAL must be positive (got %s)", s.PurgeInterval)
	}
	return nil
}
