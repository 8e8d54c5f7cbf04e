package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
[remote]
endpoint = "https://api.zotero.org"
apikey = "abc123"

[database]
dsn = "file:test.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.Equal(t, defaultMaxConcurrency, cfg.Sync.MaxConcurrency)
	assert.Equal(t, 5*time.Second, cfg.Sync.PollInterval())
	assert.Equal(t, "info", cfg.Logging.LogLevel)
	assert.Equal(t, "public", cfg.Database.Schema)
}

func TestLoad_ClampsBatchSizeAt50(t *testing.T) {
	path := writeTempConfig(t, `
[remote]
endpoint = "https://api.zotero.org"
apikey = "abc123"

[database]
dsn = "file:test.db"

[sync]
batch_size = 999
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Sync.BatchSize)
}

func TestLoad_MissingRequiredField(t *testing.T) {
	path := writeTempConfig(t, `
[remote]
endpoint = "https://api.zotero.org"
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeTempConfig(t, `
[remote]
endpoint = "https://api.zotero.org"
apikey = "abc123"

[database]
dsn = "file:test.db"

[logging]
loglevel = "verbose"
`)

	_, err := Load(path)
	require.Error(t, err)
}
