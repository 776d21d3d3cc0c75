// Package config loads broker policy from YAML: tier ceilings, model
// adapters, and pool/reaper tuning. Infrastructure settings (database URL,
// port, JWT secret) stay in the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/renderloop/backend/internal/provider"
	"github.com/renderloop/backend/internal/tiers"
)

type PoolConfig struct {
	CooldownHours          int `yaml:"cooldown_hours"`
	MaxAttempts            int `yaml:"max_attempts"`
	ProviderTimeoutSeconds int `yaml:"provider_timeout_seconds"`
}

type ReaperConfig struct {
	MaxAgeHours     int `yaml:"max_age_hours"`
	IntervalMinutes int `yaml:"interval_minutes"`
}

type Config struct {
	WebhookBaseURL string                  `yaml:"webhook_base_url"`
	ObjectStoreURL string                  `yaml:"object_store_url"`
	Pool           PoolConfig              `yaml:"pool"`
	Reaper         ReaperConfig            `yaml:"reaper"`
	Tiers          map[string]tiers.Limits `yaml:"tiers"`
	Models         []provider.AdapterSpec  `yaml:"models"`
}

// Default returns the built-in policy. Tiers default inside internal/tiers
// (a nil map selects them); the model table is empty until configured.
func Default() *Config {
	return &Config{
		WebhookBaseURL: "http://localhost:8080/v1/webhooks/provider",
		ObjectStoreURL: "http://localhost:9000",
		Pool: PoolConfig{
			CooldownHours:          24,
			MaxAttempts:            3,
			ProviderTimeoutSeconds: 30,
		},
		Reaper: ReaperConfig{
			MaxAgeHours:     24,
			IntervalMinutes: 60,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	if cfg.Pool.MaxAttempts <= 0 {
		return nil, fmt.Errorf("config %q: pool.max_attempts must be > 0", path)
	}
	return cfg, nil
}

func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Pool.CooldownHours) * time.Hour
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Pool.ProviderTimeoutSeconds) * time.Second
}

func (c *Config) ReaperMaxAge() time.Duration {
	return time.Duration(c.Reaper.MaxAgeHours) * time.Hour
}

func (c *Config) ReaperInterval() time.Duration {
	return time.Duration(c.Reaper.IntervalMinutes) * time.Minute
}
