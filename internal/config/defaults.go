package config

import "time"

const (
	defaultPollInterval     = 5 * time.Second
	defaultBatchSize        = 50
	defaultMaxConcurrency   = 4
	defaultCleanupRetention = 7 * 24 * time.Hour
	defaultHTTPTimeout      = 60 * time.Second
	defaultConnMax          = 10
	defaultSchema           = "public"
	defaultLogLevel         = "info"
)

// applyDefaults fills zero-valued fields with package defaults. Called after
// TOML decoding so that an absent key in the file falls back sensibly.
func (c *Config) applyDefaults() {
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = defaultBatchSize
	}

	if c.Sync.BatchSize > 50 {
		c.Sync.BatchSize = 50
	}

	if c.Sync.MaxConcurrency == 0 {
		c.Sync.MaxConcurrency = defaultMaxConcurrency
	}

	if c.Database.ConnMax == 0 {
		c.Database.ConnMax = defaultConnMax
	}

	if c.Database.Schema == "" {
		c.Database.Schema = defaultSchema
	}

	if c.Logging.LogLevel == "" {
		c.Logging.LogLevel = defaultLogLevel
	}
}
