// Package config loads the monitor's settings from the environment and its
// optional seed file.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all process settings. Every field maps to an environment variable.
type Config struct {
	Addr        string `env:"ADDR, default=0.0.0.0:5000"`
	Database    string `env:"DATABASE, default=rss_monitor.db"`
	DatabaseURL string `env:"DATABASE_URL"` // PostgreSQL DSN; overrides DATABASE when set

	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`
	LogLevel     string `env:"LOG_LEVEL, default=info"`

	FetchTimeout     time.Duration `env:"FETCH_TIMEOUT, default=10s"`
	FetchRetries     uint64        `env:"FETCH_RETRIES, default=2"`
	FetchConcurrency int           `env:"FETCH_CONCURRENCY, default=4"`
	DomainDelay      time.Duration `env:"DOMAIN_DELAY, default=500ms"`
	UserAgent        string        `env:"USER_AGENT, default=rssmonitor/1.0"`
	PassTimeout      time.Duration `env:"PASS_TIMEOUT, default=10m"`

	LexiconPath    string `env:"LEXICON_PATH"`
	LemmaCacheSize int    `env:"LEMMA_CACHE_SIZE, default=65536"`

	SeedPath string `env:"SEED_PATH"`
}

// Load reads the configuration from the process environment.
func Load(ctx context.Context) (Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads the configuration from l.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: l,
	}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings that would make the monitor misbehave.
func (c Config) Validate() error {
	var errs []error
	if c.FetchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("FETCH_CONCURRENCY must be at least 1, got %d", c.FetchConcurrency))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", c.FetchTimeout))
	}
	if c.LemmaCacheSize < 1 {
		errs = append(errs, fmt.Errorf("LEMMA_CACHE_SIZE must be at least 1, got %d", c.LemmaCacheSize))
	}
	switch c.LoggerFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOGGER_FORMAT must be text or json, got %q", c.LoggerFormat))
	}
	return errors.Join(errs...)
}

// Seed lists feeds and keywords to register at startup.
//
//	feeds:
//	  - https://lenta.ru/rss
//	keywords:
//	  - самолет
type Seed struct {
	Feeds    []string `yaml:"feeds"`
	Keywords []string `yaml:"keywords"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return Seed{}, fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	return ParseSeed(f)
}

// ParseSeed decodes a seed document. An empty document is an empty seed.
func ParseSeed(r io.Reader) (Seed, error) {
	var s Seed
	if err := yaml.NewDecoder(r).Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Seed{}, fmt.Errorf("decode seed: %w", err)
	}
	return s, nil
}
