// Package config loads the limsync.yaml configuration file.
//
// All values act as defaults for CLI flags; flags override config values.
// Configuration is read once at startup, there is no hot reload.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/limsync/limsync/pkg/retry"
)

// Config represents a limsync.yaml configuration file.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Download DownloadConfig `yaml:"download"`
	Push     PushConfig     `yaml:"push"`
}

// APIConfig holds the service endpoints and credentials.
type APIConfig struct {
	QueryURL  string `yaml:"query_url"`
	PushURL   string `yaml:"push_url"`
	AppID     string `yaml:"app_id"`
	AppSecret string `yaml:"app_secret"`
}

// DownloadConfig holds the fetch-path defaults.
type DownloadConfig struct {
	// Dir is the destination root for fetched reports.
	Dir string `yaml:"dir"`

	// Workers is the transfer pool size. Zero means 2x available
	// parallelism.
	Workers int `yaml:"workers"`

	// ChunkSize is the streaming buffer in bytes. Zero means 8192.
	ChunkSize int `yaml:"chunk_size"`

	Retry RetryConfig `yaml:"retry"`
}

// PushConfig holds the push-path defaults.
type PushConfig struct {
	// BatchSize bounds records per envelope. Zero means 100.
	BatchSize int `yaml:"batch_size"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig mirrors retry.Policy in file form.
type RetryConfig struct {
	MaxAttempts       int      `yaml:"max_attempts"`
	InitialDelay      Duration `yaml:"initial_delay"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier"`
	MaxDelay          Duration `yaml:"max_delay"`
}

// Policy converts the file form into a retry.Policy, applying defaults
// for unset fields.
func (rc RetryConfig) Policy() retry.Policy {
	p := retry.DefaultPolicy()
	if rc.MaxAttempts > 0 {
		p.MaxAttempts = rc.MaxAttempts
	}
	if rc.InitialDelay.Duration > 0 {
		p.InitialDelay = rc.InitialDelay.Duration
	}
	if rc.BackoffMultiplier > 0 {
		p.Multiplier = rc.BackoffMultiplier
	}
	if rc.MaxDelay.Duration > 0 {
		p.MaxDelay = rc.MaxDelay.Duration
	}
	return p
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks that the fields every command needs are present.
func (c *Config) Validate() error {
	if c.API.AppID == "" {
		return fmt.Errorf("config: api.app_id is required")
	}
	if c.API.AppSecret == "" {
		return fmt.Errorf("config: api.app_secret is required")
	}
	return nil
}
