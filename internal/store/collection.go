package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tonimelisma/zotero-sync/internal/zoteroapi"
)

// PendingUploadCollections returns collections with sync_status in
// {new, modified}, ordered by key ascending for deterministic upload order.
func (s *Store) PendingUploadCollections(ctx context.Context, libID int64, kind zoteroapi.LibraryKind) ([]Collection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, library_id, kind, version, data, meta, deleted, sync_status
		FROM collections
		WHERE library_id = ? AND kind = ? AND sync_status IN ('new', 'modified')
		ORDER BY key ASC`, libID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("%w: listing pending collections: %w", ErrPersistence, err)
	}
	defer rows.Close()

	return scanCollections(rows)
}

func scanCollections(rows *sql.Rows) ([]Collection, error) {
	var out []Collection

	for rows.Next() {
		var (
			c         Collection
			kind      string
			status    string
		)

		if err := rows.Scan(&c.Key, &c.LibraryID, &kind, &c.Version, &c.Data, &c.Meta, &c.Deleted, &status); err != nil {
			return nil, fmt.Errorf("%w: scanning collection: %w", ErrPersistence, err)
		}

		c.Kind = zoteroapi.LibraryKind(kind)
		c.SyncStatus = zoteroapi.SyncStatus(status)
		out = append(out, c)
	}

	return out, rows.Err()
}

// GetCollection loads one collection row. Returns ErrEmptyResult if absent.
func (s *Store) GetCollection(ctx context.Context, key string, libID int64, kind zoteroapi.LibraryKind) (*Collection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, library_id, kind, version, data, meta, deleted, sync_status
		FROM collections WHERE key = ? AND library_id = ? AND kind = ?`, key, libID, string(kind))

	var (
		c      Collection
		k      string
		status string
	)

	err := row.Scan(&c.Key, &c.LibraryID, &k, &c.Version, &c.Data, &c.Meta, &c.Deleted, &status)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrEmptyResult
	case err != nil:
		return nil, fmt.Errorf("%w: loading collection: %w", ErrPersistence, err)
	}

	c.Kind = zoteroapi.LibraryKind(k)
	c.SyncStatus = zoteroapi.SyncStatus(status)

	return &c, nil
}

// UpsertCollection inserts or replaces a collection row, conflict target
// (key, library_id, kind).
func (s *Store) UpsertCollection(ctx context.Context, libID int64, kind zoteroapi.LibraryKind, key string, version int, data, meta []byte, status zoteroapi.SyncStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (key, library_id, kind, version, data, meta, deleted, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(key, library_id, kind) DO UPDATE SET
			version = excluded.version,
			data = excluded.data,
			meta = excluded.meta,
			sync_status = excluded.sync_status,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')`,
		key, libID, string(kind), version, data, meta, string(status))
	if err != nil {
		return fmt.Errorf("%w: upserting collection %s: %w", ErrPersistence, key, err)
	}

	return nil
}

// DeleteCollectionLocal removes a collection row outright.
func (s *Store) DeleteCollectionLocal(ctx context.Context, key string, libID int64, kind zoteroapi.LibraryKind) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE key = ? AND library_id = ? AND kind = ?`,
		key, libID, string(kind))
	if err != nil {
		return fmt.Errorf("%w: deleting collection %s: %w", ErrPersistence, key, err)
	}

	return nil
}

// MarkCollectionTombstoned implements the deletions-phase precedence logic
// for the deletions phase: if the local row is synced (or this side cannot
// upload), mark it deleted; otherwise re-stamp it with the remote version
// so a subsequent upload re-creates it.
func (s *Store) MarkCollectionTombstoned(ctx context.Context, key string, libID int64, kind zoteroapi.LibraryKind, remoteLMV int, canUpload bool) error {
	c, err := s.GetCollection(ctx, key, libID, kind)
	if errors.Is(err, ErrEmptyResult) {
		return nil
	}

	if err != nil {
		return err
	}

	if c.Deleted {
		return nil
	}

	if c.SyncStatus == zoteroapi.StatusSynced || !canUpload {
		_, err := s.db.ExecContext(ctx, `UPDATE collections SET deleted = 1 WHERE key = ? AND library_id = ? AND kind = ?`,
			key, libID, string(kind))
		if err != nil {
			return fmt.Errorf("%w: marking collection %s deleted: %w", ErrPersistence, key, err)
		}

		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE collections SET version = ?, sync_status = ? WHERE key = ? AND library_id = ? AND kind = ?`,
		remoteLMV, string(zoteroapi.StatusSynced), key, libID, string(kind))
	if err != nil {
		return fmt.Errorf("%w: restamping collection %s: %w", ErrPersistence, key, err)
	}

	return nil
}
