// Package testsupport provides shared test fixtures (a migrated, empty
// SQLite store) for packages that exercise the local mirror.
package testsupport

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/zotero-sync/internal/store"
)

// NewStore opens a freshly migrated SQLite store backed by a temp file (not
// :memory: — modernc.org/sqlite's in-memory mode does not share state
// across the pooled connections Store.Open configures).
func NewStore(t *testing.T) *store.Store {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := store.Open(dsn, 1, logger)
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	return s
}
