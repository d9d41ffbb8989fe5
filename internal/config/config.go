// Package config loads the service configuration: built-in defaults, then an
// optional YAML file, then environment variable overrides, in that order.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/sellerpulse/repricer/internal/gate"
	"github.com/sellerpulse/repricer/internal/ingest"
	httpapi "github.com/sellerpulse/repricer/internal/interfaces/http"
	"github.com/sellerpulse/repricer/internal/opportunity"
	"github.com/sellerpulse/repricer/internal/window"
)

// Config is the full service configuration.
type Config struct {
	Server httpapi.ServerConfig `yaml:"server"`

	Redis struct {
		Addr       string `yaml:"addr" env:"REDIS_ADDR"`
		DB         int    `yaml:"db" env:"REDIS_DB"`
		TTLSeconds int    `yaml:"default_ttl_seconds" env:"REDIS_DEFAULT_TTL_SECONDS"`
	} `yaml:"redis"`

	Postgres struct {
		DSN string `yaml:"dsn" env:"POSTGRES_DSN"`
	} `yaml:"postgres"`

	Gate     gate.Config        `yaml:"gate"`
	Window   window.Config      `yaml:"window"`
	Detector opportunity.Config `yaml:"detector"`

	Regime struct {
		// Strategies maps regime names to strategy identifiers, overriding
		// the stock policy per deployment.
		Strategies map[string]string `yaml:"strategies"`
	} `yaml:"regime"`

	Ingest  ingest.Config `yaml:"ingest"`
	FeedURL string        `yaml:"feed_url" env:"EVENT_FEED_URL"`

	Pricing struct {
		Timeout time.Duration `yaml:"timeout" env:"PRICING_TIMEOUT"`
	} `yaml:"pricing"`

	Snapshot struct {
		// Dir enables periodic operator snapshot files when non-empty.
		Dir      string        `yaml:"dir" env:"SNAPSHOT_DIR"`
		Interval time.Duration `yaml:"interval" env:"SNAPSHOT_INTERVAL"`
	} `yaml:"snapshot"`
}

// Default returns the built-in configuration.
func Default() Config {
	var c Config
	c.Server = httpapi.DefaultServerConfig()
	c.Gate = gate.DefaultConfig()
	c.Window = window.DefaultConfig()
	c.Detector = opportunity.DefaultConfig()
	c.Ingest = ingest.DefaultConfig()
	c.Pricing.Timeout = 2 * time.Second
	c.Redis.TTLSeconds = 0 // decisions are content-addressed, no expiry
	c.Snapshot.Interval = 5 * time.Minute
	return c
}

// Load builds the effective configuration. path may be empty.
func Load(path string) (Config, error) {
	c := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		// Decode through a map so duration fields accept "90s" style values,
		// which yaml cannot put into time.Duration on its own.
		var raw map[string]any
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
			TagName:    "yaml",
			Result:     &c,
		})
		if err != nil {
			return Config{}, fmt.Errorf("build config decoder: %w", err)
		}
		if err := dec.Decode(raw); err != nil {
			return Config{}, fmt.Errorf("apply config %s: %w", path, err)
		}
	}

	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("apply env overrides: %w", err)
	}
	return c, nil
}

// RedisTTL converts the configured TTL into a duration.
func (c Config) RedisTTL() time.Duration {
	return time.Duration(c.Redis.TTLSeconds) * time.Second
}
