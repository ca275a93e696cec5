// Package config loads runtime settings from MANGADL_* environment variables
// and holds the user preferences that can change while running.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

const envPrefix = "MANGADL_"

type Config struct {
	// Storage
	HomeDir      string `env:"HOME_DIR"`
	CacheDir     string `env:"CACHE_DIR"`
	DatabasePath string `env:"DB_PATH"`
	Store        string `env:"STORE"     envDefault:"duckdb"`
	RedisURL     string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// Download pipeline
	PreloadSize       int     `env:"PRELOAD_SIZE"        envDefault:"4"`
	Concurrency       int     `env:"CONCURRENCY"         envDefault:"3"`
	PageConcurrency   int     `env:"PAGE_CONCURRENCY"    envDefault:"4"`
	RequestsPerSecond float64 `env:"REQUESTS_PER_SECOND" envDefault:"2"`
	Burst             int     `env:"BURST"               envDefault:"1"`

	// HTTP
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	UserAgent   string        `env:"USER_AGENT"   envDefault:"mangadl/1.0"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load parses the process environment.
func Load() (*Config, error) {
	return parse(env.Options{Prefix: envPrefix})
}

// LoadFrom parses environ instead of the process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	return parse(env.Options{Prefix: envPrefix, Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	if cfg.HomeDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("config: failed to resolve home directory: %w", err)
		}
		cfg.HomeDir = filepath.Join(home, ".mangadl")
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(cfg.HomeDir, "chapter_disk_cache")
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.HomeDir, "mangadl.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Store != "duckdb" && c.Store != "redis" && c.Store != "memory":
		return fmt.Errorf("config: unknown store %q", c.Store)
	case c.PreloadSize < 1:
		return fmt.Errorf("config: preload size must be at least 1, got %d", c.PreloadSize)
	case c.Concurrency < 1:
		return fmt.Errorf("config: concurrency must be at least 1, got %d", c.Concurrency)
	case c.PageConcurrency < 1:
		return fmt.Errorf("config: page concurrency must be at least 1, got %d", c.PageConcurrency)
	case c.RequestsPerSecond <= 0:
		return fmt.Errorf("config: requests per second must be positive, got %v", c.RequestsPerSecond)
	case c.Burst < 1:
		return fmt.Errorf("config: burst must be at least 1, got %d", c.Burst)
	}
	return nil
}
