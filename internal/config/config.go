// Package config holds hearlink configuration: a YAML file layered over
// struct-tag defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for both the host daemon and the
// watch client.
type Config struct {
	// Listen is the host bridge address.
	Listen string `yaml:"listen" default:"127.0.0.1:8645"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" default:"info"`

	// PollInterval is the mirror reconciliation poll period.
	PollInterval time.Duration `yaml:"poll_interval" default:"1s"`

	// FailedClearAfter is how long the mirror shows a failed status
	// before reverting to the true device state.
	FailedClearAfter time.Duration `yaml:"failed_clear_after" default:"3s"`

	Scan ScanConfig `yaml:"scan"`
}

// ScanConfig configures discovery behavior.
type ScanConfig struct {
	// AllowDuplicates keeps repeat advertisement reports flowing so RSSI
	// stays current. Turning it off trades freshness for less callback
	// traffic.
	AllowDuplicates bool `yaml:"allow_duplicates" default:"true"`
}

// Default returns the configuration with every field at its default.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file layered over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the runtime cannot work with.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.FailedClearAfter <= 0 {
		return fmt.Errorf("failed_clear_after must be positive, got %s", c.FailedClearAfter)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}

// NewLogger creates a logger configured per the config.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}
