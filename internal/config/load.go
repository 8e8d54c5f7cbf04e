package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and validates a TOML configuration file from path.
func Load(path string) (*Config, error) {
	var cfg Config

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// parseDurations converts the string duration fields of SyncConfig into
// time.Duration, storing durations as human-readable strings in TOML and
// parsing once at load time.
func (c *Config) parseDurations() error {
	poll := c.Sync.PollInterval
	if poll == "" {
		c.Sync.pollInterval = defaultPollInterval
	} else {
		d, err := time.ParseDuration(poll)
		if err != nil {
			return fmt.Errorf("config: sync.poll_interval %q: %w", poll, err)
		}

		c.Sync.pollInterval = d
	}

	retention := c.Sync.CleanupRetention
	if retention == "" {
		c.Sync.cleanupRetention = defaultCleanupRetention
	} else {
		d, err := time.ParseDuration(retention)
		if err != nil {
			return fmt.Errorf("config: sync.cleanup_retention %q: %w", retention, err)
		}

		c.Sync.cleanupRetention = d
	}

	timeout := c.Sync.HTTPTimeout
	if timeout == "" {
		c.Sync.httpTimeout = defaultHTTPTimeout
	} else {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("config: sync.http_timeout %q: %w", timeout, err)
		}

		c.Sync.httpTimeout = d
	}

	return nil
}

// Validate checks required fields are present.
func (c *Config) Validate() error {
	if c.Remote.Endpoint == "" {
		return fmt.Errorf("config: remote.endpoint is required")
	}

	if c.Remote.APIKey == "" {
		return fmt.Errorf("config: remote.apikey is required")
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn is required")
	}

	switch c.Logging.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.loglevel %q: must be one of debug, info, warn, error", c.Logging.LogLevel)
	}

	return nil
}
