package worker_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/zotero-sync/internal/queue"
	"github.com/tonimelisma/zotero-sync/internal/testsupport"
	"github.com/tonimelisma/zotero-sync/internal/worker"
	"github.com/tonimelisma/zotero-sync/internal/zoteroapi"
)

type fakeRemote struct {
	nextVersion int
	upserted    []zoteroapi.ItemData
	failKey     string
}

func (f *fakeRemote) UpsertCollection(context.Context, zoteroapi.LibraryRef, zoteroapi.CollectionData, int) (int, error) {
	f.nextVersion++
	return f.nextVersion, nil
}

func (f *fakeRemote) DeleteCollection(context.Context, zoteroapi.LibraryRef, string, int) (int, error) {
	f.nextVersion++
	return f.nextVersion, nil
}

func (f *fakeRemote) UpsertItem(_ context.Context, _ zoteroapi.LibraryRef, data zoteroapi.ItemData, _ int) (int, error) {
	if data.Key == f.failKey {
		return 0, zoteroapi.ErrRateLimited
	}

	f.upserted = append(f.upserted, data)
	f.nextVersion++

	return f.nextVersion, nil
}

func (f *fakeRemote) DeleteItem(context.Context, zoteroapi.LibraryRef, string, int) (int, error) {
	f.nextVersion++
	return f.nextVersion, nil
}

func TestWorker_DispatchesPendingItemAndCommitsVersion(t *testing.T) {
	ctx := context.Background()
	s := testsupport.NewStore(t)

	_, err := s.DB().ExecContext(ctx, `INSERT INTO libraries (id, kind, data, deleted) VALUES (1, 'user', '{}', 0)`)
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx, `INSERT INTO sync_libraries (library_id, kind, outgoing_sync) VALUES (1, 'user', 'event_driven')`)
	require.NoError(t, err)

	data, err := json.Marshal(zoteroapi.ItemData{Key: "ITEM1", ItemType: "note"})
	require.NoError(t, err)
	require.NoError(t, s.UpsertItem(ctx, 1, zoteroapi.KindUser, "ITEM1", 0, data, []byte("{}"), false, zoteroapi.StatusNew, ""))

	q := queue.New(s.DB(), 0)
	remote := &fakeRemote{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	w := worker.New(q, remote, s, logger)
	require.NoError(t, w.RunOnce(ctx, 50))

	require.Len(t, remote.upserted, 1)

	item, err := s.GetItem(ctx, "ITEM1", 1, zoteroapi.KindUser)
	require.NoError(t, err)
	assert.Equal(t, zoteroapi.StatusSynced, item.SyncStatus)

	lib, err := s.GetLibrary(ctx, 1, zoteroapi.KindUser)
	require.NoError(t, err)
	assert.Equal(t, 1, lib.ItemVersion)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Pending)
}

func TestWorker_FailedDispatchSchedulesRetry(t *testing.T) {
	ctx := context.Background()
	s := testsupport.NewStore(t)

	_, err := s.DB().ExecContext(ctx, `INSERT INTO libraries (id, kind, data, deleted) VALUES (1, 'user', '{}', 0)`)
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx, `INSERT INTO sync_libraries (library_id, kind, outgoing_sync) VALUES (1, 'user', 'event_driven')`)
	require.NoError(t, err)

	data, err := json.Marshal(zoteroapi.ItemData{Key: "BADITEM", ItemType: "note"})
	require.NoError(t, err)
	require.NoError(t, s.UpsertItem(ctx, 1, zoteroapi.KindUser, "BADITEM", 0, data, []byte("{}"), false, zoteroapi.StatusNew, ""))

	q := queue.New(s.DB(), 0)
	remote := &fakeRemote{failKey: "BADITEM"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	w := worker.New(q, remote, s, logger)
	require.NoError(t, w.RunOnce(ctx, 50))

	item, err := s.GetItem(ctx, "BADITEM", 1, zoteroapi.KindUser)
	require.NoError(t, err)
	assert.Equal(t, zoteroapi.StatusNew, item.SyncStatus)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Pending) // rescheduled a minute out, not immediately due
}
