// Package config implements TOML configuration loading and validation for
// the zotero-sync and zotero-sync-worker binaries.
package config

import "time"

// Config is the top-level configuration structure, loaded from a single
// TOML file. Per-library overrides (synconly, clear_before_sync) are plain
// lists rather than nested tables because library membership is the only
// thing that varies per run.
type Config struct {
	Remote     RemoteConfig     `toml:"remote"`
	Database   DatabaseConfig   `toml:"database"`
	ObjectStore ObjectStoreConfig `toml:"s3"`
	Sync       SyncConfig       `toml:"sync"`
	Logging    LoggingConfig    `toml:"logging"`
}

// RemoteConfig describes the Zotero Web API endpoint and credentials.
type RemoteConfig struct {
	Endpoint string `toml:"endpoint"`
	APIKey   string `toml:"apikey"`
}

// DatabaseConfig describes the relational mirror's connection.
type DatabaseConfig struct {
	DSN     string `toml:"dsn"`
	Schema  string `toml:"schema"`
	ConnMax int    `toml:"conn_max"`
}

// ObjectStoreConfig describes the S3-compatible attachment blob store.
type ObjectStoreConfig struct {
	Endpoint        string `toml:"endpoint"`
	Bucket          string `toml:"bucket"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UseSSL          bool   `toml:"use_ssl"`
	Region          string `toml:"region"`
}

// SyncConfig controls batch-sync and worker behavior.
type SyncConfig struct {
	SyncOnly         []string `toml:"synconly"`
	ClearBeforeSync  []string `toml:"clear_before_sync"`
	NewGroupActive   bool     `toml:"newgroupactive"`
	PollInterval     string   `toml:"poll_interval"`
	BatchSize        int      `toml:"batch_size"`
	MaxConcurrency   int      `toml:"max_concurrent_libraries"`
	CleanupRetention string   `toml:"cleanup_retention"`
	HTTPTimeout      string   `toml:"http_timeout"`

	// Parsed forms, populated by Load.
	pollInterval     time.Duration
	cleanupRetention time.Duration
	httpTimeout      time.Duration
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel string `toml:"loglevel"`
}

// PollInterval returns the parsed poll interval.
func (s SyncConfig) PollInterval() time.Duration { return s.pollInterval }

// CleanupRetention returns the parsed cleanup retention window.
func (s SyncConfig) CleanupRetention() time.Duration { return s.cleanupRetention }

// HTTPTimeout returns the parsed per-request HTTP timeout.
func (s SyncConfig) HTTPTimeout() time.Duration { return s.httpTimeout }
