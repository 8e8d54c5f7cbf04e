package syncengine

import (
	"context"
	"fmt"

	"github.com/tonimelisma/zotero-sync/internal/store"
	"github.com/tonimelisma/zotero-sync/internal/zoteroapi"
)

// syncTags refreshes the library-level tag mirror. Tags have no local
// mutation path of their own (they exist only as attributes of items), so
// this phase is download-only.
func (e *Engine) syncTags(ctx context.Context, ref zoteroapi.LibraryRef, lib store.Library, v *versions) error {
	tags, lmv, err := e.remote.TagsSince(ctx, ref, v.tag)
	if err != nil {
		return fmt.Errorf("listing tags: %w", err)
	}

	if lmv > v.tag {
		v.tag = lmv
	}

	for _, t := range tags {
		if err := e.store.UpsertTag(ctx, lib.ID, lib.Kind, t.Tag, t.Type, t.Meta.NumItems); err != nil {
			return fmt.Errorf("storing tag %s: %w", t.Tag, err)
		}
	}

	return nil
}
