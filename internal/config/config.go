package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/livinlefevreloca/payfetch/internal/gmail"
	"github.com/livinlefevreloca/payfetch/internal/history"
	"github.com/livinlefevreloca/payfetch/internal/orchestrator"
	"github.com/livinlefevreloca/payfetch/internal/pipeline"
	"github.com/livinlefevreloca/payfetch/internal/ratelimit"
	"github.com/livinlefevreloca/payfetch/internal/retry"
	"github.com/livinlefevreloca/payfetch/internal/schedule"
)

// Config represents the application configuration
type Config struct {
	Schedules    schedule.Config     `toml:"schedules"`
	Gmail        gmail.Config        `toml:"gmail"`
	Downloads    pipeline.Config     `toml:"downloads"`
	RateLimit    ratelimit.Config    `toml:"rate_limit"`
	Retry        retry.Config        `toml:"retry"`
	History      history.Config      `toml:"history"`
	Orchestrator orchestrator.Config `toml:"orchestrator"`
	Logging      LoggingConfig       `toml:"logging"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Schedules:    schedule.DefaultConfig(),
		Gmail:        gmail.DefaultConfig(),
		Downloads:    pipeline.DefaultConfig(),
		RateLimit:    ratelimit.DefaultConfig(),
		Retry:        retry.DefaultConfig(),
		History:      history.DefaultConfig(),
		Orchestrator: orchestrator.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}
	return LoadFromFile(configPath)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Schedules.Path == "" {
		return fmt.Errorf("schedules path must be specified")
	}
	if c.History.Path == "" {
		return fmt.Errorf("history path must be specified")
	}

	if err := c.Gmail.Validate(); err != nil {
		return err
	}
	if err := c.Downloads.Validate(); err != nil {
		return err
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return err
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// LogLevel maps the configured level onto slog
func (c *Config) LogLevel() slog.Level {
	switch c.Logging.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the application logger from the logging settings
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel()}

	var handler slog.Handler
	if c.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
