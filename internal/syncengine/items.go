package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tonimelisma/zotero-sync/internal/store"
	"github.com/tonimelisma/zotero-sync/internal/zoteroapi"
)

// uploadItems pushes locally pending items, sending each item's stored
// version as its If-Unmodified-Since-Version precondition (no items_since
// baseline probe is made), and returns the highest version returned by a
// successful write, or 0 when nothing was written.
func (e *Engine) uploadItems(ctx context.Context, ref zoteroapi.LibraryRef, lib store.Library, canUpload bool) (int, error) {
	if !canUpload {
		return 0, nil
	}

	pending, err := e.store.PendingUploadItems(ctx, lib.ID, lib.Kind)
	if err != nil {
		return 0, fmt.Errorf("loading pending items: %w", err)
	}

	highest := 0

	for _, it := range pending {
		var data zoteroapi.ItemData
		if err := json.Unmarshal(it.Data, &data); err != nil {
			return highest, fmt.Errorf("decoding pending item %s: %w", it.Key, err)
		}

		newVersion, err := e.remote.UpsertItem(ctx, ref, data, it.Version)
		if err != nil {
			if isConflict(err) {
				return highest, fmt.Errorf("uploading item %s: %w", it.Key, err)
			}

			e.logger.Error("syncengine: item upload failed, will retry next cycle",
				"library_id", lib.ID, "key", it.Key, "error", err.Error())
			continue
		}

		if err := e.store.UpsertItem(ctx, lib.ID, lib.Kind, it.Key, newVersion, it.Data, it.Meta, it.Trashed, zoteroapi.StatusSynced, it.MD5); err != nil {
			return highest, fmt.Errorf("marking item %s synced: %w", it.Key, err)
		}

		if data.LinkMode != "" && data.MD5 != "" {
			if err := e.uploadAttachment(ctx, ref, it.Key, newVersion, data); err != nil {
				e.logger.Warn("syncengine: attachment upload incomplete, marking item for retry",
					"library_id", lib.ID, "key", it.Key, "error", err.Error())

				if serr := e.store.SetItemSyncStatus(ctx, it.Key, lib.ID, lib.Kind, zoteroapi.StatusIncomplete); serr != nil {
					return highest, fmt.Errorf("marking item %s incomplete: %w", it.Key, serr)
				}
			}
		}

		if newVersion > highest {
			highest = newVersion
		}
	}

	return highest, nil
}

// downloadItems lists items changed since v.item across both the active and
// trashed item sets, fetches the ones actually newer than the local copy in
// batches, stores them, and downloads any attached file content, per the item
// download and attachment coordination phases.
func (e *Engine) downloadItems(ctx context.Context, ref zoteroapi.LibraryRef, lib store.Library, v *versions, canDownload bool) error {
	if !canDownload {
		return nil
	}

	versionsByKey := make(map[string]int)
	trashedKeys := make(map[string]bool)

	for _, trashed := range [...]bool{false, true} {
		batch, lmv, err := e.remote.ItemsSince(ctx, ref, v.item, trashed)
		if err != nil {
			return fmt.Errorf("listing item versions: %w", err)
		}

		if lmv > v.item {
			v.item = lmv
		}

		for key, version := range batch {
			if existing, ok := versionsByKey[key]; !ok || version > existing {
				versionsByKey[key] = version
				trashedKeys[key] = trashed
			}
		}
	}

	keys := make([]string, 0, len(versionsByKey))

	for key, remoteVersion := range versionsByKey {
		local, err := e.store.GetItem(ctx, key, lib.ID, lib.Kind)
		if err != nil && !errors.Is(err, store.ErrEmptyResult) {
			return fmt.Errorf("loading local item %s: %w", key, err)
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

		batch, err := e.remote.ItemsFetch(ctx, ref, keys[start:end])
		if err != nil {
			return fmt.Errorf("fetching items: %w", err)
		}

		for _, it := range batch {
			data, err := json.Marshal(it.Data)
			if err != nil {
				return fmt.Errorf("encoding item %s: %w", it.Key, err)
			}

			meta, err := json.Marshal(it.Meta)
			if err != nil {
				return fmt.Errorf("encoding item meta %s: %w", it.Key, err)
			}

			if err := e.store.UpsertItem(ctx, lib.ID, lib.Kind, it.Key, it.Version, data, meta, trashedKeys[it.Key], zoteroapi.StatusSynced, it.Data.MD5); err != nil {
				return fmt.Errorf("storing item %s: %w", it.Key, err)
			}

			if it.Data.LinkMode == "imported_file" || it.Data.LinkMode == "imported_url" {
				if err := e.downloadAttachment(ctx, ref, it.Key, it.Data); err != nil {
					e.logger.Error("syncengine: attachment download failed", "library_id", lib.ID, "key", it.Key, "error", err.Error())
				}
			}
		}
	}

	return nil
}
