package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/zotero-sync/internal/testsupport"
	"github.com/tonimelisma/zotero-sync/internal/zoteroapi"
)

// TestMarkItemTombstoned_SyncedRowIsDeleted covers scenario 5 from the
// testable-properties scenarios: a synced item seen in the deletions feed
// is simply marked deleted, keeping its stored version.
func TestMarkItemTombstoned_SyncedRowIsDeleted(t *testing.T) {
	s := testsupport.NewStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertItem(ctx, 1, zoteroapi.KindUser, "K4", 20, []byte(`{}`), []byte(`{}`), false, zoteroapi.StatusSynced, ""))

	require.NoError(t, s.MarkItemTombstoned(ctx, "K4", 1, zoteroapi.KindUser, 20, true))

	it, err := s.GetItem(ctx, "K4", 1, zoteroapi.KindUser)
	require.NoError(t, err)
	assert.True(t, it.Deleted)
	assert.Equal(t, 20, it.Version)
}

// TestMarkItemTombstoned_UnsyncedLocalChangeIsRestamped covers the branch
// where the local side still has unsynced changes and is authoritative for
// uploads: the row must survive, restamped at the remote version with
// sync_status synced, so a subsequent upload re-creates it.
func TestMarkItemTombstoned_UnsyncedLocalChangeIsRestamped(t *testing.T) {
	s := testsupport.NewStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertItem(ctx, 1, zoteroapi.KindUser, "K5", 9, []byte(`{}`), []byte(`{}`), false, zoteroapi.StatusModified, ""))

	require.NoError(t, s.MarkItemTombstoned(ctx, "K5", 1, zoteroapi.KindUser, 15, true))

	it, err := s.GetItem(ctx, "K5", 1, zoteroapi.KindUser)
	require.NoError(t, err)
	assert.False(t, it.Deleted)
	assert.Equal(t, 15, it.Version)
	assert.Equal(t, zoteroapi.StatusSynced, it.SyncStatus)
}

// TestMarkItemTombstoned_DownloadOnlyAlwaysDeletes covers the
// can_download-and-not-can_upload branch: even an unsynced row is deleted
// because this side cannot re-upload it.
func TestMarkItemTombstoned_DownloadOnlyAlwaysDeletes(t *testing.T) {
	s := testsupport.NewStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertItem(ctx, 1, zoteroapi.KindUser, "K6", 9, []byte(`{}`), []byte(`{}`), false, zoteroapi.StatusModified, ""))

	require.NoError(t, s.MarkItemTombstoned(ctx, "K6", 1, zoteroapi.KindUser, 15, false))

	it, err := s.GetItem(ctx, "K6", 1, zoteroapi.KindUser)
	require.NoError(t, err)
	assert.True(t, it.Deleted)
}

func TestMarkItemTombstoned_AbsentRowIsNoop(t *testing.T) {
	s := testsupport.NewStore(t)

	err := s.MarkItemTombstoned(context.Background(), "GONE", 1, zoteroapi.KindUser, 5, true)
	assert.NoError(t, err)
}
