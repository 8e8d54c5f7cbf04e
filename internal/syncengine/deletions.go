package syncengine

import (
	"context"
	"fmt"

	"github.com/tonimelisma/zotero-sync/internal/store"
	"github.com/tonimelisma/zotero-sync/internal/zoteroapi"
)

// syncDeletions applies remote tombstones, using the precedence rule that a
// synced (or download-only) local row is marked deleted outright, while an
// unsynced local change on an upload-capable library is re-stamped with the
// remote version so the next upload cycle re-creates it.
func (e *Engine) syncDeletions(ctx context.Context, ref zoteroapi.LibraryRef, lib store.Library, v *versions, canUpload bool) error {
	del, lmv, err := e.remote.DeletionsSince(ctx, ref, v.item)
	if err != nil {
		return fmt.Errorf("listing deletions: %w", err)
	}

	e.logger.Debug("syncengine: ignoring remote search and setting deletions",
		"library_id", lib.ID, "searches", len(del.Searches), "settings", len(del.Settings))

	for _, key := range del.Collections {
		if err := e.store.MarkCollectionTombstoned(ctx, key, lib.ID, lib.Kind, lmv, canUpload); err != nil {
			return fmt.Errorf("tombstoning collection %s: %w", key, err)
		}
	}

	for _, key := range del.Items {
		if err := e.store.MarkItemTombstoned(ctx, key, lib.ID, lib.Kind, lmv, canUpload); err != nil {
			return fmt.Errorf("tombstoning item %s: %w", key, err)
		}
	}

	for _, tag := range del.Tags {
		if err := e.store.DeleteTag(ctx, lib.ID, lib.Kind, tag); err != nil {
			return fmt.Errorf("deleting tag %s: %w", tag, err)
		}
	}

	if lmv > v.collection {
		v.collection = lmv
	}

	if lmv > v.item {
		v.item = lmv
	}

	return nil
}
