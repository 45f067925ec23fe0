// Package config loads pushsub configuration from the environment and an
// optional YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/ggoodman/pushstream-go/auth/clientcredentials"
	"github.com/ggoodman/pushstream-go/retry"
)

// Config is the complete CLI configuration. Values come from, in increasing
// precedence: struct tag defaults, PUSHSTREAM_* environment variables, the
// YAML file, and command-line flags.
type Config struct {
	// BaseURL is the server to subscribe to. Mutually exclusive with Locator.
	BaseURL string `yaml:"base_url" env:"PUSHSTREAM_BASE_URL"`

	// Locator, Service and ServiceVersion address a hosted instance.
	Locator        string `yaml:"locator" env:"PUSHSTREAM_LOCATOR"`
	Service        string `yaml:"service" env:"PUSHSTREAM_SERVICE"`
	ServiceVersion string `yaml:"service_version" env:"PUSHSTREAM_SERVICE_VERSION"`
	// Host overrides the host derived from Locator.
	Host string `yaml:"host" env:"PUSHSTREAM_HOST"`

	// At most one token source may be set.
	Token     string                   `yaml:"token" env:"PUSHSTREAM_TOKEN"`
	TokenFile string                   `yaml:"token_file" env:"PUSHSTREAM_TOKEN_FILE"`
	OAuth     clientcredentials.Config `yaml:"oauth"`

	Retry retry.Options `yaml:"retry"`

	// RedisURL enables the Redis cursor store, e.g. redis://localhost:6379/0.
	RedisURL        string `yaml:"redis_url" env:"PUSHSTREAM_REDIS_URL"`
	CursorKeyPrefix string `yaml:"cursor_key_prefix" env:"PUSHSTREAM_CURSOR_KEY_PREFIX"`

	PoolSize    int64  `yaml:"pool_size" env:"PUSHSTREAM_POOL_SIZE,default=64"`
	LogLevel    string `yaml:"log_level" env:"PUSHSTREAM_LOG_LEVEL,default=info"`
	MetricsAddr string `yaml:"metrics_addr" env:"PUSHSTREAM_METRICS_ADDR"`
}

// DefaultPath returns $HOME/.pushstream/config.yaml, or config.yaml when no
// home directory is known.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "config.yaml"
	}
	return filepath.Join(home, ".pushstream", "config.yaml")
}

// FromEnv decodes the environment and applies tag defaults.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &cfg, nil
}

// Load decodes the environment and then overlays the YAML file at path. A
// missing file is not an error; an empty path skips the file.
func Load(path string) (*Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var errs []error

	switch {
	case c.BaseURL == "" && c.Locator == "":
		errs = append(errs, errors.New("one of base_url or locator is required"))
	case c.BaseURL != "" && c.Locator != "":
		errs = append(errs, errors.New("base_url and locator are mutually exclusive"))
	case c.Locator != "" && (c.Service == "" || c.ServiceVersion == ""):
		errs = append(errs, errors.New("locator requires service and service_version"))
	}

	sources := 0
	for _, set := range []bool{c.Token != "", c.TokenFile != "", c.OAuth.Enabled()} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		errs = append(errs, errors.New("token, token_file and oauth are mutually exclusive"))
	}

	if c.Retry.InitialTimeout < 0 || c.Retry.MaxTimeout < 0 {
		errs = append(errs, errors.New("retry timeouts must not be negative"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Level parses LogLevel. An empty level is Info.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if strings.TrimSpace(c.LogLevel) == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}
