package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tonimelisma/zotero-sync/internal/zoteroapi"
)

// PendingUploadItems returns items with sync_status in {new, modified,
// incomplete}, ordered by key ascending. incomplete rows are returned
// alongside new and modified ones, so their metadata is uploaded again too.
func (s *Store) PendingUploadItems(ctx context.Context, libID int64, kind zoteroapi.LibraryKind) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, library_id, kind, version, data, meta, trashed, deleted, sync_status, md5
		FROM items
		WHERE library_id = ? AND kind = ? AND sync_status IN ('new', 'modified', 'incomplete')
		ORDER BY key ASC`, libID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("%w: listing pending items: %w", ErrPersistence, err)
	}
	defer rows.Close()

	return scanItems(rows)
}

func scanItems(rows *sql.Rows) ([]Item, error) {
	var out []Item

	for rows.Next() {
		var (
			it     Item
			kind   string
			status string
			md5    sql.NullString
		)

		if err := rows.Scan(&it.Key, &it.LibraryID, &kind, &it.Version, &it.Data, &it.Meta,
			&it.Trashed, &it.Deleted, &status, &md5); err != nil {
			return nil, fmt.Errorf("%w: scanning item: %w", ErrPersistence, err)
		}

		it.Kind = zoteroapi.LibraryKind(kind)
		it.SyncStatus = zoteroapi.SyncStatus(status)
		it.MD5 = md5.String
		out = append(out, it)
	}

	return out, rows.Err()
}

// GetItem loads one item row. Returns ErrEmptyResult if absent.
func (s *Store) GetItem(ctx context.Context, key string, libID int64, kind zoteroapi.LibraryKind) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, library_id, kind, version, data, meta, trashed, deleted, sync_status, md5
		FROM items WHERE key = ? AND library_id = ? AND kind = ?`, key, libID, string(kind))

	var (
		it     Item
		k      string
		status string
		md5    sql.NullString
	)

	err := row.Scan(&it.Key, &it.LibraryID, &k, &it.Version, &it.Data, &it.Meta, &it.Trashed, &it.Deleted, &status, &md5)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrEmptyResult
	case err != nil:
		return nil, fmt.Errorf("%w: loading item: %w", ErrPersistence, err)
	}

	it.Kind = zoteroapi.LibraryKind(k)
	it.SyncStatus = zoteroapi.SyncStatus(status)
	it.MD5 = md5.String

	return &it, nil
}

// UpsertItem inserts or replaces an item row, conflict target
// (key, library_id, kind).
func (s *Store) UpsertItem(ctx context.Context, libID int64, kind zoteroapi.LibraryKind, key string, version int, data, meta []byte, trashed bool, status zoteroapi.SyncStatus, md5 string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (key, library_id, kind, version, data, meta, trashed, deleted, sync_status, md5)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(key, library_id, kind) DO UPDATE SET
			version = excluded.version,
			data = excluded.data,
			meta = excluded.meta,
			trashed = excluded.trashed,
			sync_status = excluded.sync_status,
			md5 = excluded.md5,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')`,
		key, libID, string(kind), version, data, meta, trashed, string(status), nullableString(md5))
	if err != nil {
		return fmt.Errorf("%w: upserting item %s: %w", ErrPersistence, key, err)
	}

	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}

	return s
}

// DeleteItemLocal removes an item row outright.
func (s *Store) DeleteItemLocal(ctx context.Context, key string, libID int64, kind zoteroapi.LibraryKind) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE key = ? AND library_id = ? AND kind = ?`,
		key, libID, string(kind))
	if err != nil {
		return fmt.Errorf("%w: deleting item %s: %w", ErrPersistence, key, err)
	}

	return nil
}

// MarkItemTombstoned implements the same deletions-phase precedence logic
// as MarkCollectionTombstoned, for items.
func (s *Store) MarkItemTombstoned(ctx context.Context, key string, libID int64, kind zoteroapi.LibraryKind, remoteLMV int, canUpload bool) error {
	it, err := s.GetItem(ctx, key, libID, kind)
	if errors.Is(err, ErrEmptyResult) {
		return nil
	}

	if err != nil {
		return err
	}

	if it.Deleted {
		return nil
	}

	if it.SyncStatus == zoteroapi.StatusSynced || !canUpload {
		_, err := s.db.ExecContext(ctx, `UPDATE items SET deleted = 1 WHERE key = ? AND library_id = ? AND kind = ?`,
			key, libID, string(kind))
		if err != nil {
			return fmt.Errorf("%w: marking item %s deleted: %w", ErrPersistence, key, err)
		}

		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE items SET version = ?, sync_status = ? WHERE key = ? AND library_id = ? AND kind = ?`,
		remoteLMV, string(zoteroapi.StatusSynced), key, libID, string(kind))
	if err != nil {
		return fmt.Errorf("%w: restamping item %s: %w", ErrPersistence, key, err)
	}

	return nil
}

// SetItemSyncStatus updates only the sync_status column, used when an
// upload returns a partial success requiring retry (incomplete) or when
// marking a row synced without otherwise changing its data.
func (s *Store) SetItemSyncStatus(ctx context.Context, key string, libID int64, kind zoteroapi.LibraryKind, status zoteroapi.SyncStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE items SET sync_status = ? WHERE key = ? AND library_id = ? AND kind = ?`,
		string(status), key, libID, string(kind))
	if err != nil {
		return fmt.Errorf("%w: setting item %s sync_status: %w", ErrPersistence, key, err)
	}

	return nil
}
