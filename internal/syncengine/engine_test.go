package syncengine_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/zotero-sync/internal/store"
	"github.com/tonimelisma/zotero-sync/internal/syncengine"
	"github.com/tonimelisma/zotero-sync/internal/testsupport"
	"github.com/tonimelisma/zotero-sync/internal/zoteroapi"
)

type fakeRemote struct {
	collectionVersions map[string]int
	collections        map[string]zoteroapi.Collection
	itemVersions       map[string]int
	items              map[string]zoteroapi.Item
	tags               []zoteroapi.TagData
	deletions          zoteroapi.Deletions
	lmv                int

	upsertedCollections []zoteroapi.CollectionData
	upsertedItems       []zoteroapi.ItemData
}

func (f *fakeRemote) CollectionsSince(context.Context, zoteroapi.LibraryRef, int) (map[string]int, int, error) {
	return f.collectionVersions, f.lmv, nil
}

func (f *fakeRemote) CollectionsFetch(_ context.Context, _ zoteroapi.LibraryRef, keys []string) ([]zoteroapi.Collection, error) {
	out := make([]zoteroapi.Collection, 0, len(keys))
	for _, k := range keys {
		out = append(out, f.collections[k])
	}

	return out, nil
}

func (f *fakeRemote) UpsertCollection(_ context.Context, _ zoteroapi.LibraryRef, data zoteroapi.CollectionData, _ int) (int, error) {
	f.upsertedCollections = append(f.upsertedCollections, data)
	return f.lmv + 1, nil
}

func (f *fakeRemote) DeleteCollection(context.Context, zoteroapi.LibraryRef, string, int) (int, error) {
	return f.lmv + 1, nil
}

func (f *fakeRemote) ItemsSince(context.Context, zoteroapi.LibraryRef, int, bool) (map[string]int, int, error) {
	return f.itemVersions, f.lmv, nil
}

func (f *fakeRemote) ItemsFetch(_ context.Context, _ zoteroapi.LibraryRef, keys []string) ([]zoteroapi.Item, error) {
	out := make([]zoteroapi.Item, 0, len(keys))
	for _, k := range keys {
		out = append(out, f.items[k])
	}

	return out, nil
}

func (f *fakeRemote) UpsertItem(_ context.Context, _ zoteroapi.LibraryRef, data zoteroapi.ItemData, _ int) (int, error) {
	f.upsertedItems = append(f.upsertedItems, data)
	return f.lmv + 1, nil
}

func (f *fakeRemote) DeleteItem(context.Context, zoteroapi.LibraryRef, string, int) (int, error) {
	return f.lmv + 1, nil
}

func (f *fakeRemote) TagsSince(context.Context, zoteroapi.LibraryRef, int) ([]zoteroapi.TagData, int, error) {
	return f.tags, f.lmv, nil
}

func (f *fakeRemote) DeletionsSince(context.Context, zoteroapi.LibraryRef, int) (*zoteroapi.Deletions, int, error) {
	return &f.deletions, f.lmv, nil
}

func (f *fakeRemote) AttachmentDownloadURL(context.Context, zoteroapi.LibraryRef, string) (string, error) {
	return "", zoteroapi.ErrNotFound
}

func (f *fakeRemote) DownloadBlob(context.Context, string) ([]byte, error) {
	return nil, zoteroapi.ErrNotFound
}

func (f *fakeRemote) RequestUploadAuth(context.Context, zoteroapi.LibraryRef, string, int64, string, string, int64, int) (*zoteroapi.UploadAuthorization, error) {
	return &zoteroapi.UploadAuthorization{Exists: true}, nil
}

func (f *fakeRemote) UploadBlob(context.Context, *zoteroapi.UploadAuthorization, []byte) error {
	return nil
}

func (f *fakeRemote) RegisterUpload(context.Context, zoteroapi.LibraryRef, string, string, int) (int, error) {
	return f.lmv + 1, nil
}

func newEngine(t *testing.T, remote *fakeRemote) (*syncengine.Engine, *store.Store) {
	t.Helper()

	s := testsupport.NewStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return syncengine.New(remote, s, testsupport.NewMemStore(), logger), s
}

func TestSync_SkipsEverythingWhenDirectionNone(t *testing.T) {
	remote := &fakeRemote{}
	engine, s := newEngine(t, remote)

	ctx := context.Background()

	lib, err := s.EnsureLibrary(ctx, 1, zoteroapi.KindUser, true)
	require.NoError(t, err)

	_, err = s.DB().ExecContext(ctx, `UPDATE sync_libraries SET direction = 'none' WHERE library_id = 1 AND kind = 'user'`)
	require.NoError(t, err)

	lib, err = s.GetLibrary(ctx, 1, zoteroapi.KindUser)
	require.NoError(t, err)

	require.NoError(t, engine.Sync(ctx, *lib))
	assert.Empty(t, remote.upsertedCollections)
}

func TestSync_DownloadsRemoteCollectionsAndItems(t *testing.T) {
	remote := &fakeRemote{
		lmv:                5,
		collectionVersions: map[string]int{"COLL1": 5},
		collections: map[string]zoteroapi.Collection{
			"COLL1": {Key: "COLL1", Version: 5, Data: zoteroapi.CollectionData{Key: "COLL1", Version: 5, Name: "Papers"}},
		},
		itemVersions: map[string]int{"ITEM1": 5},
		items: map[string]zoteroapi.Item{
			"ITEM1": {Key: "ITEM1", Version: 5, Data: zoteroapi.ItemData{Key: "ITEM1", Version: 5, ItemType: "journalArticle", Title: "A Paper"}},
		},
	}

	engine, s := newEngine(t, remote)
	ctx := context.Background()

	lib, err := s.EnsureLibrary(ctx, 1, zoteroapi.KindUser, true)
	require.NoError(t, err)

	_, err = s.DB().ExecContext(ctx, `UPDATE sync_libraries SET direction = 'both_cloud' WHERE library_id = 1 AND kind = 'user'`)
	require.NoError(t, err)

	lib, err = s.GetLibrary(ctx, 1, zoteroapi.KindUser)
	require.NoError(t, err)

	require.NoError(t, engine.Sync(ctx, *lib))

	coll, err := s.GetCollection(ctx, "COLL1", 1, zoteroapi.KindUser)
	require.NoError(t, err)
	assert.Equal(t, 5, coll.Version)

	item, err := s.GetItem(ctx, "ITEM1", 1, zoteroapi.KindUser)
	require.NoError(t, err)
	assert.Equal(t, 5, item.Version)

	updated, err := s.GetLibrary(ctx, 1, zoteroapi.KindUser)
	require.NoError(t, err)
	assert.Equal(t, 5, updated.CollectionVersion)
	assert.Equal(t, 5, updated.ItemVersion)
}

func TestSync_UploadsPendingItemsAndMarksSynced(t *testing.T) {
	remote := &fakeRemote{lmv: 10}
	engine, s := newEngine(t, remote)
	ctx := context.Background()

	_, err := s.EnsureLibrary(ctx, 1, zoteroapi.KindUser, true)
	require.NoError(t, err)

	_, err = s.DB().ExecContext(ctx, `UPDATE sync_libraries SET direction = 'both_cloud' WHERE library_id = 1 AND kind = 'user'`)
	require.NoError(t, err)

	data, err := json.Marshal(zoteroapi.ItemData{ItemType: "note"})
	require.NoError(t, err)

	require.NoError(t, s.UpsertItem(ctx, 1, zoteroapi.KindUser, "NEWITEM", 0, data, []byte("{}"), false, zoteroapi.StatusNew, ""))

	lib, err := s.GetLibrary(ctx, 1, zoteroapi.KindUser)
	require.NoError(t, err)

	require.NoError(t, engine.Sync(ctx, *lib))

	require.Len(t, remote.upsertedItems, 1)

	item, err := s.GetItem(ctx, "NEWITEM", 1, zoteroapi.KindUser)
	require.NoError(t, err)
	assert.Equal(t, zoteroapi.StatusSynced, item.SyncStatus)
}

func TestSync_DeletionsTombstoneSyncedRows(t *testing.T) {
	remote := &fakeRemote{lmv: 20, deletions: zoteroapi.Deletions{Items: []string{"GONE"}}}
	engine, s := newEngine(t, remote)
	ctx := context.Background()

	_, err := s.EnsureLibrary(ctx, 1, zoteroapi.KindUser, true)
	require.NoError(t, err)

	_, err = s.DB().ExecContext(ctx, `UPDATE sync_libraries SET direction = 'both_cloud' WHERE library_id = 1 AND kind = 'user'`)
	require.NoError(t, err)

	require.NoError(t, s.UpsertItem(ctx, 1, zoteroapi.KindUser, "GONE", 15, []byte("{}"), []byte("{}"), false, zoteroapi.StatusSynced, ""))

	lib, err := s.GetLibrary(ctx, 1, zoteroapi.KindUser)
	require.NoError(t, err)

	require.NoError(t, engine.Sync(ctx, *lib))

	item, err := s.GetItem(ctx, "GONE", 1, zoteroapi.KindUser)
	require.NoError(t, err)
	assert.True(t, item.Deleted)
}
