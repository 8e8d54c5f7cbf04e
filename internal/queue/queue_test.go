package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/zotero-sync/internal/queue"
	"github.com/tonimelisma/zotero-sync/internal/testsupport"
	"github.com/tonimelisma/zotero-sync/internal/zoteroapi"
)

func TestQueue_FetchPendingOrdersCollectionsBeforeItems(t *testing.T) {
	ctx := context.Background()
	s := testsupport.NewStore(t)

	_, err := s.DB().ExecContext(ctx, `INSERT INTO libraries (id, kind, data, deleted) VALUES (1, 'user', '{}', 0)`)
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx, `INSERT INTO sync_libraries (library_id, kind, outgoing_sync) VALUES (1, 'user', 'event_driven')`)
	require.NoError(t, err)

	require.NoError(t, s.UpsertItem(ctx, 1, zoteroapi.KindUser, "ITEM1", 0, []byte("{}"), []byte("{}"), false, zoteroapi.StatusNew, ""))
	require.NoError(t, s.UpsertCollection(ctx, 1, zoteroapi.KindUser, "COLL1", 0, []byte("{}"), []byte("{}"), zoteroapi.StatusNew))

	q := queue.New(s.DB(), time.Minute)

	entries, err := q.FetchPending(ctx, 1, zoteroapi.KindUser, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "collection", entries[0].EntityType)
	assert.Equal(t, "item", entries[1].EntityType)
}

func TestQueue_FetchPendingSkipsLeasedRows(t *testing.T) {
	ctx := context.Background()
	s := testsupport.NewStore(t)

	_, err := s.DB().ExecContext(ctx, `INSERT INTO libraries (id, kind, data, deleted) VALUES (1, 'user', '{}', 0)`)
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx, `INSERT INTO sync_libraries (library_id, kind, outgoing_sync) VALUES (1, 'user', 'event_driven')`)
	require.NoError(t, err)

	require.NoError(t, s.UpsertItem(ctx, 1, zoteroapi.KindUser, "ITEM1", 0, []byte("{}"), []byte("{}"), false, zoteroapi.StatusNew, ""))

	q := queue.New(s.DB(), time.Minute)

	first, err := q.FetchPending(ctx, 1, zoteroapi.KindUser, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := q.FetchPending(ctx, 1, zoteroapi.KindUser, 10)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestQueue_MarkFailedSchedulesExponentialBackoff(t *testing.T) {
	ctx := context.Background()
	s := testsupport.NewStore(t)

	_, err := s.DB().ExecContext(ctx, `INSERT INTO libraries (id, kind, data, deleted) VALUES (1, 'user', '{}', 0)`)
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx, `INSERT INTO sync_libraries (library_id, kind, outgoing_sync) VALUES (1, 'user', 'event_driven')`)
	require.NoError(t, err)

	require.NoError(t, s.UpsertItem(ctx, 1, zoteroapi.KindUser, "ITEM1", 0, []byte("{}"), []byte("{}"), false, zoteroapi.StatusNew, ""))

	q := queue.New(s.DB(), time.Minute)

	entries, err := q.FetchPending(ctx, 1, zoteroapi.KindUser, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	before := time.Now().UTC()
	require.NoError(t, q.MarkFailed(ctx, entries[0].ID, entries[0].RetryCount, "boom"))

	var nextRetryAt string
	row := s.DB().QueryRowContext(ctx, `SELECT next_retry_at FROM sync_queue WHERE id = ?`, entries[0].ID)
	require.NoError(t, row.Scan(&nextRetryAt))

	parsed, err := time.Parse("2006-01-02T15:04:05.000Z", nextRetryAt)
	require.NoError(t, err)
	assert.True(t, parsed.After(before.Add(50*time.Second)))
}

func TestQueue_MarkCompletedClearsLease(t *testing.T) {
	ctx := context.Background()
	s := testsupport.NewStore(t)

	_, err := s.DB().ExecContext(ctx, `INSERT INTO libraries (id, kind, data, deleted) VALUES (1, 'user', '{}', 0)`)
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx, `INSERT INTO sync_libraries (library_id, kind, outgoing_sync) VALUES (1, 'user', 'event_driven')`)
	require.NoError(t, err)

	require.NoError(t, s.UpsertItem(ctx, 1, zoteroapi.KindUser, "ITEM1", 0, []byte("{}"), []byte("{}"), false, zoteroapi.StatusNew, ""))

	q := queue.New(s.DB(), time.Minute)

	entries, err := q.FetchPending(ctx, 1, zoteroapi.KindUser, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, q.MarkCompleted(ctx, entries[0].ID))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Pending)
	assert.Equal(t, int64(0), stats.Leased)
}

func TestQueue_LibrariesWithPendingIgnoresBatchMode(t *testing.T) {
	ctx := context.Background()
	s := testsupport.NewStore(t)

	_, err := s.DB().ExecContext(ctx, `INSERT INTO libraries (id, kind, data, deleted) VALUES (1, 'user', '{}', 0)`)
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx, `INSERT INTO sync_libraries (library_id, kind, outgoing_sync) VALUES (1, 'user', 'batch')`)
	require.NoError(t, err)

	require.NoError(t, s.UpsertItem(ctx, 1, zoteroapi.KindUser, "ITEM1", 0, []byte("{}"), []byte("{}"), false, zoteroapi.StatusNew, ""))

	q := queue.New(s.DB(), time.Minute)

	libs, err := q.LibrariesWithPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, libs)
}
