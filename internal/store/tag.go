package store

import (
	"context"
	"fmt"

	"github.com/tonimelisma/zotero-sync/internal/zoteroapi"
)

// UpsertTag inserts or replaces a library-level tag row.
func (s *Store) UpsertTag(ctx context.Context, libID int64, kind zoteroapi.LibraryKind, tag string, tagType, numItems int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (tag, library_id, kind, type, num_items)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tag, library_id, kind) DO UPDATE SET
			type = excluded.type,
			num_items = excluded.num_items`,
		tag, libID, string(kind), tagType, numItems)
	if err != nil {
		return fmt.Errorf("%w: upserting tag %s: %w", ErrPersistence, tag, err)
	}

	return nil
}

// DeleteTag unconditionally removes a tag row. Tag-deletion direction
// policy is left unconditional rather than gated on sync direction.
func (s *Store) DeleteTag(ctx context.Context, libID int64, kind zoteroapi.LibraryKind, tag string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE tag = ? AND library_id = ? AND kind = ?`,
		tag, libID, string(kind))
	if err != nil {
		return fmt.Errorf("%w: deleting tag %s: %w", ErrPersistence, tag, err)
	}

	return nil
}
