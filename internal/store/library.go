package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tonimelisma/zotero-sync/internal/zoteroapi"
)

const rfc3339Milli = "2006-01-02T15:04:05.000Z"

// GetLibrary loads one library's identity and sync state, joining the two
// tables that together model a library's identity and sync state. Returns
// ErrEmptyResult if absent.
func (s *Store) GetLibrary(ctx context.Context, id int64, kind zoteroapi.LibraryKind) (*Library, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT l.data, l.deleted,
		       sl.version, sl.item_version, sl.collection_version, sl.tag_version,
		       sl.direction, sl.sync_tags, sl.active, sl.outgoing_sync, sl.is_modified, sl.modified_at
		FROM libraries l
		JOIN sync_libraries sl ON sl.library_id = l.id AND sl.kind = l.kind
		WHERE l.id = ? AND l.kind = ?`, id, string(kind))

	return scanLibrary(row, id, kind)
}

func scanLibrary(row *sql.Row, id int64, kind zoteroapi.LibraryKind) (*Library, error) {
	var (
		lib        Library
		direction  string
		modifiedAt sql.NullString
	)

	lib.ID = id
	lib.Kind = kind

	err := row.Scan(&lib.Data, &lib.Deleted, &lib.Version, &lib.ItemVersion, &lib.CollectionVersion,
		&lib.TagVersion, &direction, &lib.SyncTags, &lib.Active, &lib.OutgoingSync, &lib.IsModified, &modifiedAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrEmptyResult
	case err != nil:
		return nil, fmt.Errorf("%w: loading library: %w", ErrPersistence, err)
	}

	lib.Direction = zoteroapi.Direction(direction)

	if modifiedAt.Valid {
		t, perr := time.Parse(rfc3339Milli, modifiedAt.String)
		if perr == nil {
			lib.ModifiedAt = &t
		}
	}

	return &lib, nil
}

// EnsureLibrary inserts a library row with version=0, direction=to_local,
// and the given active default if one does not already exist. Returns the
// current row either way.
func (s *Store) EnsureLibrary(ctx context.Context, id int64, kind zoteroapi.LibraryKind, newGroupActive bool) (*Library, error) {
	existing, err := s.GetLibrary(ctx, id, kind)
	if err == nil {
		return existing, nil
	}

	if !errors.Is(err, ErrEmptyResult) {
		return nil, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO libraries (id, kind, data, deleted) VALUES (?, ?, '{}', 0)`,
			id, string(kind)); err != nil {
			return fmt.Errorf("%w: inserting library: %w", ErrPersistence, err)
		}

		active := 1
		if kind == zoteroapi.KindGroup && !newGroupActive {
			active = 0
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sync_libraries (library_id, kind, version, direction, active)
			VALUES (?, ?, 0, ?, ?)`,
			id, string(kind), string(zoteroapi.DirectionToLocal), active); err != nil {
			return fmt.Errorf("%w: inserting sync_libraries: %w", ErrPersistence, err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetLibrary(ctx, id, kind)
}

// ListActiveLibraries returns every library row with active = true.
func (s *Store) ListActiveLibraries(ctx context.Context) ([]Library, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.kind, l.data, l.deleted,
		       sl.version, sl.item_version, sl.collection_version, sl.tag_version,
		       sl.direction, sl.sync_tags, sl.active, sl.outgoing_sync, sl.is_modified
		FROM libraries l
		JOIN sync_libraries sl ON sl.library_id = l.id AND sl.kind = l.kind
		WHERE sl.active = 1`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing active libraries: %w", ErrPersistence, err)
	}
	defer rows.Close()

	var out []Library

	for rows.Next() {
		var (
			lib       Library
			kind      string
			direction string
		)

		if err := rows.Scan(&lib.ID, &kind, &lib.Data, &lib.Deleted, &lib.Version, &lib.ItemVersion,
			&lib.CollectionVersion, &lib.TagVersion, &direction, &lib.SyncTags, &lib.Active,
			&lib.OutgoingSync, &lib.IsModified); err != nil {
			return nil, fmt.Errorf("%w: scanning library row: %w", ErrPersistence, err)
		}

		lib.Kind = zoteroapi.LibraryKind(kind)
		lib.Direction = zoteroapi.Direction(direction)
		out = append(out, lib)
	}

	return out, rows.Err()
}

// DeleteLibrariesNotIn removes local libraries of kind whose id is not in
// keep, together with their sync_libraries row and their collections,
// items, and tags.
func (s *Store) DeleteLibrariesNotIn(ctx context.Context, kind zoteroapi.LibraryKind, keep []int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM libraries WHERE kind = ?`, string(kind))
		if err != nil {
			return fmt.Errorf("%w: listing libraries: %w", ErrPersistence, err)
		}

		keepSet := make(map[int64]bool, len(keep))
		for _, id := range keep {
			keepSet[id] = true
		}

		var toDelete []int64

		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("%w: scanning library id: %w", ErrPersistence, err)
			}

			if !keepSet[id] {
				toDelete = append(toDelete, id)
			}
		}

		rows.Close()

		for _, id := range toDelete {
			for _, table := range []string{"collections", "items", "tags", "sync_libraries"} {
				if _, err := tx.ExecContext(ctx,
					fmt.Sprintf(`DELETE FROM %s WHERE library_id = ? AND kind = ?`, table),
					id, string(kind)); err != nil {
					return fmt.Errorf("%w: deleting %s of library %d: %w", ErrPersistence, table, id, err)
				}
			}

			if _, err := tx.ExecContext(ctx, `DELETE FROM libraries WHERE id = ? AND kind = ?`, id, string(kind)); err != nil {
				return fmt.Errorf("%w: deleting library %d: %w", ErrPersistence, id, err)
			}
		}

		return nil
	})
}

// ClearLocal atomically zeros all version watermarks and truncates a
// library's collections, items, and tags, for the clear_before_sync
// startup option.
func (s *Store) ClearLocal(ctx context.Context, id int64, kind zoteroapi.LibraryKind) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"collections", "items", "tags"} {
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE library_id = ? AND kind = ?`, table),
				id, string(kind)); err != nil {
				return fmt.Errorf("%w: clearing %s: %w", ErrPersistence, table, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE sync_libraries
			SET version = 0, item_version = 0, collection_version = 0, tag_version = 0, is_modified = 0
			WHERE library_id = ? AND kind = ?`, id, string(kind)); err != nil {
			return fmt.Errorf("%w: resetting watermarks: %w", ErrPersistence, err)
		}

		return nil
	})
}

// CommitVersions persists the advanced watermarks after a sync cycle,
// setting is_modified when any watermark actually advanced.
func (s *Store) CommitVersions(ctx context.Context, id int64, kind zoteroapi.LibraryKind, collectionVersion, itemVersion, tagVersion int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sync_libraries
			SET is_modified = CASE WHEN collection_version != ? OR item_version != ? OR tag_version != ? THEN 1 ELSE is_modified END,
			    collection_version = ?, item_version = ?, tag_version = ?,
			    modified_at = ?
			WHERE library_id = ? AND kind = ?`,
			collectionVersion, itemVersion, tagVersion,
			collectionVersion, itemVersion, tagVersion,
			time.Now().UTC().Format(rfc3339Milli),
			id, string(kind))
		if err != nil {
			return fmt.Errorf("%w: committing versions: %w", ErrPersistence, err)
		}

		n, _ := res.RowsAffected()
		if n == 0 {
			return ErrEmptyResult
		}

		return nil
	})
}

// EnforceReadOnly downgrades a library's direction to to_local if its
// current policy permits uploads, used when the configured API key no
// longer holds a write grant for that library.
func (s *Store) EnforceReadOnly(ctx context.Context, id int64, kind zoteroapi.LibraryKind) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_libraries SET direction = ?
		WHERE library_id = ? AND kind = ? AND direction != ?`,
		string(zoteroapi.DirectionToLocal), id, string(kind), string(zoteroapi.DirectionNone))
	if err != nil {
		return fmt.Errorf("%w: enforcing read-only direction: %w", ErrPersistence, err)
	}

	return nil
}

// UpdateGroupData overwrites a group's metadata blob and persists the
// group's own remote version, the watermark refreshGroupIfDrifted compares
// against to decide whether a refresh is due. Local collection/item/tag
// version watermarks and sync state are left untouched.
func (s *Store) UpdateGroupData(ctx context.Context, id int64, version int, data []byte) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE libraries SET data = ? WHERE id = ? AND kind = ?`,
			data, id, string(zoteroapi.KindGroup))
		if err != nil {
			return fmt.Errorf("%w: updating group data: %w", ErrPersistence, err)
		}

		n, _ := res.RowsAffected()
		if n == 0 {
			return ErrEmptyResult
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE sync_libraries SET version = ? WHERE library_id = ? AND kind = ?`,
			version, id, string(zoteroapi.KindGroup)); err != nil {
			return fmt.Errorf("%w: updating group version: %w", ErrPersistence, err)
		}

		return nil
	})
}
