// Package syncengine implements the Sync Engine (C4): the per-library full
// sync algorithm of collections -> item upload -> item download (+
// attachments) -> tags -> deletion sync -> version commit.
package syncengine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tonimelisma/zotero-sync/internal/objectstore"
	"github.com/tonimelisma/zotero-sync/internal/store"
	"github.com/tonimelisma/zotero-sync/internal/zoteroapi"
)

// RemoteClient is the subset of *zoteroapi.Client the engine drives.
type RemoteClient interface {
	CollectionsSince(ctx context.Context, lib zoteroapi.LibraryRef, v int) (map[string]int, int, error)
	CollectionsFetch(ctx context.Context, lib zoteroapi.LibraryRef, keys []string) ([]zoteroapi.Collection, error)
	UpsertCollection(ctx context.Context, lib zoteroapi.LibraryRef, data zoteroapi.CollectionData, ifUnmodVersion int) (int, error)
	DeleteCollection(ctx context.Context, lib zoteroapi.LibraryRef, key string, ifUnmodVersion int) (int, error)

	ItemsSince(ctx context.Context, lib zoteroapi.LibraryRef, v int, trashed bool) (map[string]int, int, error)
	ItemsFetch(ctx context.Context, lib zoteroapi.LibraryRef, keys []string) ([]zoteroapi.Item, error)
	UpsertItem(ctx context.Context, lib zoteroapi.LibraryRef, data zoteroapi.ItemData, ifUnmodVersion int) (int, error)
	DeleteItem(ctx context.Context, lib zoteroapi.LibraryRef, key string, ifUnmodVersion int) (int, error)

	TagsSince(ctx context.Context, lib zoteroapi.LibraryRef, v int) ([]zoteroapi.TagData, int, error)
	DeletionsSince(ctx context.Context, lib zoteroapi.LibraryRef, v int) (*zoteroapi.Deletions, int, error)

	AttachmentDownloadURL(ctx context.Context, lib zoteroapi.LibraryRef, key string) (string, error)
	DownloadBlob(ctx context.Context, url string) ([]byte, error)
	RequestUploadAuth(ctx context.Context, lib zoteroapi.LibraryRef, itemKey string, size int64, md5sum, filename string, mtime int64, ifUnmodVersion int) (*zoteroapi.UploadAuthorization, error)
	UploadBlob(ctx context.Context, auth *zoteroapi.UploadAuthorization, data []byte) error
	RegisterUpload(ctx context.Context, lib zoteroapi.LibraryRef, itemKey, uploadKey string, ifUnmodVersion int) (int, error)
}

// Store is the subset of *store.Store the engine drives.
type Store interface {
	PendingUploadCollections(ctx context.Context, libID int64, kind zoteroapi.LibraryKind) ([]store.Collection, error)
	UpsertCollection(ctx context.Context, libID int64, kind zoteroapi.LibraryKind, key string, version int, data, meta []byte, status zoteroapi.SyncStatus) error
	DeleteCollectionLocal(ctx context.Context, key string, libID int64, kind zoteroapi.LibraryKind) error
	MarkCollectionTombstoned(ctx context.Context, key string, libID int64, kind zoteroapi.LibraryKind, remoteLMV int, canUpload bool) error
	GetCollection(ctx context.Context, key string, libID int64, kind zoteroapi.LibraryKind) (*store.Collection, error)

	PendingUploadItems(ctx context.Context, libID int64, kind zoteroapi.LibraryKind) ([]store.Item, error)
	UpsertItem(ctx context.Context, libID int64, kind zoteroapi.LibraryKind, key string, version int, data, meta []byte, trashed bool, status zoteroapi.SyncStatus, md5 string) error
	DeleteItemLocal(ctx context.Context, key string, libID int64, kind zoteroapi.LibraryKind) error
	MarkItemTombstoned(ctx context.Context, key string, libID int64, kind zoteroapi.LibraryKind, remoteLMV int, canUpload bool) error
	GetItem(ctx context.Context, key string, libID int64, kind zoteroapi.LibraryKind) (*store.Item, error)
	SetItemSyncStatus(ctx context.Context, key string, libID int64, kind zoteroapi.LibraryKind, status zoteroapi.SyncStatus) error

	UpsertTag(ctx context.Context, libID int64, kind zoteroapi.LibraryKind, tag string, tagType, numItems int) error
	DeleteTag(ctx context.Context, libID int64, kind zoteroapi.LibraryKind, tag string) error

	CommitVersions(ctx context.Context, id int64, kind zoteroapi.LibraryKind, collectionVersion, itemVersion, tagVersion int) error
}

// Engine drives one library's full sync. It is a free-standing coordinator
// that takes the library record, client, and store as inputs rather than
// having libraries carry a back-pointer to the client.
type Engine struct {
	remote  RemoteClient
	store   Store
	objects objectstore.Store
	logger  *slog.Logger
}

// New builds an Engine.
func New(remote RemoteClient, st Store, objects objectstore.Store, logger *slog.Logger) *Engine {
	return &Engine{remote: remote, store: st, objects: objects, logger: logger}
}

// versions tracks the watermarks advanced during one sync cycle, committed
// atomically at the end.
type versions struct {
	collection int
	item       int
	tag        int
}

// Sync performs a full sync for one library: collections -> upload items ->
// download items (+attachments) -> tags -> deletions -> commit versions.
func (e *Engine) Sync(ctx context.Context, lib store.Library) error {
	if lib.Direction == zoteroapi.DirectionNone {
		return nil
	}

	cycleID := uuid.New().String()
	logger := e.logger.With("cycle_id", cycleID, "library_id", lib.ID, "kind", lib.Kind)
	logger.Debug("syncengine: starting sync cycle")

	ref := lib.Ref()
	canUpload := lib.Direction.CanUpload()
	canDownload := lib.Direction.CanDownload()

	v := versions{
		collection: lib.CollectionVersion,
		item:       lib.ItemVersion,
		tag:        lib.TagVersion,
	}

	if err := e.syncCollections(ctx, ref, lib, &v, canUpload, canDownload); err != nil {
		return fmt.Errorf("syncengine: collections phase: %w", err)
	}

	baseline, err := e.uploadItems(ctx, ref, lib, canUpload)
	if err != nil {
		return fmt.Errorf("syncengine: item upload phase: %w", err)
	}

	if baseline > v.item {
		v.item = baseline
	}

	if err := e.downloadItems(ctx, ref, lib, &v, canDownload); err != nil {
		return fmt.Errorf("syncengine: item download phase: %w", err)
	}

	if canDownload && lib.SyncTags {
		if err := e.syncTags(ctx, ref, lib, &v); err != nil {
			return fmt.Errorf("syncengine: tag phase: %w", err)
		}
	}

	if canDownload {
		if err := e.syncDeletions(ctx, ref, lib, &v, canUpload); err != nil {
			return fmt.Errorf("syncengine: deletion phase: %w", err)
		}
	}

	if err := e.store.CommitVersions(ctx, lib.ID, lib.Kind, v.collection, v.item, v.tag); err != nil {
		return err
	}

	logger.Debug("syncengine: sync cycle complete",
		"collection_version", v.collection, "item_version", v.item, "tag_version", v.tag)

	return nil
}
