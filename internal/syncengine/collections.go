package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tonimelisma/zotero-sync/internal/store"
	"github.com/tonimelisma/zotero-sync/internal/zoteroapi"
)

// syncCollections uploads locally pending collections, then downloads
// remotely changed ones, advancing v.collection.
func (e *Engine) syncCollections(ctx context.Context, ref zoteroapi.LibraryRef, lib store.Library, v *versions, canUpload, canDownload bool) error {
	if canUpload {
		pending, err := e.store.PendingUploadCollections(ctx, lib.ID, lib.Kind)
		if err != nil {
			return fmt.Errorf("loading pending collections: %w", err)
		}

		for _, c := range pending {
			var data zoteroapi.CollectionData
			if err := json.Unmarshal(c.Data, &data); err != nil {
				return fmt.Errorf("decoding pending collection %s: %w", c.Key, err)
			}

			newVersion, err := e.remote.UpsertCollection(ctx, ref, data, c.Version)
			if err != nil {
				if isConflict(err) {
					return fmt.Errorf("uploading collection %s: %w", c.Key, err)
				}

				e.logger.Error("syncengine: collection upload failed, will retry next cycle",
					"library_id", lib.ID, "key", c.Key, "error", err.Error())
				continue
			}

			if err := e.store.UpsertCollection(ctx, lib.ID, lib.Kind, c.Key, newVersion, c.Data, c.Meta, zoteroapi.StatusSynced); err != nil {
				return fmt.Errorf("marking collection %s synced: %w", c.Key, err)
			}

			if newVersion > v.collection {
				v.collection = newVersion
			}
		}
	}

	if !canDownload {
		return nil
	}

	versionsByKey, lmv, err := e.remote.CollectionsSince(ctx, ref, v.collection)
	if err != nil {
		return fmt.Errorf("listing collection versions: %w", err)
	}

	if lmv > v.collection {
		v.collection = lmv
	}

	keys := make([]string, 0, len(versionsByKey))

	for key, remoteVersion := range versionsByKey {
		local, err := e.store.GetCollection(ctx, key, lib.ID, lib.Kind)
		if err != nil && !errors.Is(err, store.ErrEmptyResult) {
			return fmt.Errorf("loading local collection %s: %w", key, err)
		}

		if local != nil && local.Version >= remoteVersion {
			continue
		}

		keys = append(keys, key)
	}

	for start := 0; start < len(keys); start += zoteroapi.BatchLimit {
		end := start + zoteroapi.BatchLimit
		if end > len(keys) {
			end = len(keys)
		}

		batch, err := e.remote.CollectionsFetch(ctx, ref, keys[start:end])
		if err != nil {
			return fmt.Errorf("fetching collections: %w", err)
		}

		for _, c := range batch {
			data, err := json.Marshal(c.Data)
			if err != nil {
				return fmt.Errorf("encoding collection %s: %w", c.Key, err)
			}

			meta, err := json.Marshal(c.Meta)
			if err != nil {
				return fmt.Errorf("encoding collection meta %s: %w", c.Key, err)
			}

			if err := e.store.UpsertCollection(ctx, lib.ID, lib.Kind, c.Key, c.Version, data, meta, zoteroapi.StatusSynced); err != nil {
				return fmt.Errorf("storing collection %s: %w", c.Key, err)
			}
		}
	}

	return nil
}

func isConflict(err error) bool {
	return errors.Is(err, zoteroapi.ErrConflict)
}
