// Package queue implements the outbound sync queue (C5): the event-driven
// path that lets libraries configured for outgoing_sync=event_driven push
// local mutations between full sync cycles, leased and retried with
// exponential backoff.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tonimelisma/zotero-sync/internal/zoteroapi"
)

// Entry is one leased row of the outbound queue.
type Entry struct {
	ID         int64
	EntityType string
	EntityKey  string
	LibraryID  int64
	Kind       zoteroapi.LibraryKind
	Operation  string
	RetryCount int
	MaxRetries int
}

// Stats summarizes the queue's current backlog.
type Stats struct {
	Pending int64 // unleased rows that are due now and have retries left
	Leased  int64
	Failed  int64 // rows that have exhausted max_retries
}

const rfc3339Milli = "2006-01-02T15:04:05.000Z"

// Queue wraps the sync_queue table maintained by the database triggers in
// the store's migrations.
type Queue struct {
	db            *sql.DB
	leaseDuration time.Duration
}

// New builds a Queue over db, the same *sql.DB the store opened.
func New(db *sql.DB, leaseDuration time.Duration) *Queue {
	return &Queue{db: db, leaseDuration: leaseDuration}
}

// LibrariesWithPending returns the distinct (library_id, kind) pairs that
// have unprocessed, due, unleased queue rows with retries left (retry_count
// <= max_retries) and whose outgoing_sync policy
// is event_driven — batch-mode libraries' rows sit in the table (the
// triggers cannot filter on outgoing_sync, see the store migration) but are
// never leased here.
func (q *Queue) LibrariesWithPending(ctx context.Context) ([]struct {
	LibraryID int64
	Kind      zoteroapi.LibraryKind
}, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT DISTINCT sq.library_id, sq.kind
		FROM sync_queue sq
		JOIN sync_libraries sl ON sl.library_id = sq.library_id AND sl.kind = sq.kind
		WHERE sq.processed_at IS NULL
		  AND sq.retry_count <= sq.max_retries
		  AND sq.next_retry_at <= ?
		  AND (sq.leased_until IS NULL OR sq.leased_until <= ?)
		  AND sl.outgoing_sync = 'event_driven'`,
		now(), now())
	if err != nil {
		return nil, fmt.Errorf("queue: listing libraries with pending work: %w", err)
	}
	defer rows.Close()

	var out []struct {
		LibraryID int64
		Kind      zoteroapi.LibraryKind
	}

	for rows.Next() {
		var (
			id   int64
			kind string
		)

		if err := rows.Scan(&id, &kind); err != nil {
			return nil, fmt.Errorf("queue: scanning library id: %w", err)
		}

		out = append(out, struct {
			LibraryID int64
			Kind      zoteroapi.LibraryKind
		}{id, zoteroapi.LibraryKind(kind)})
	}

	return out, rows.Err()
}

// FetchPending leases up to limit due, unprocessed rows with retries left
// (retry_count <= max_retries) for one library, ordered
// collections-before-items (so a collection a new item references
// exists remotely first) and by id within each entity type. Leasing uses a
// BEGIN IMMEDIATE transaction: SQLite has no per-row locking, so an
// immediate write lock on the whole database file is the closest equivalent
// to Postgres's SELECT ... FOR UPDATE SKIP LOCKED, held just long enough to
// stamp leased_until on the selected rows.
func (q *Queue) FetchPending(ctx context.Context, libraryID int64, kind zoteroapi.LibraryKind, limit int) ([]Entry, error) {
	if limit > zoteroapi.BatchLimit {
		limit = zoteroapi.BatchLimit
	}

	conn, err := q.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: acquiring connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, fmt.Errorf("queue: beginning immediate lease transaction: %w", err)
	}

	committed := false

	defer func() {
		if !committed {
			conn.ExecContext(ctx, "ROLLBACK")
		}
	}()

	rows, err := conn.QueryContext(ctx, `
		SELECT id, entity_type, entity_key, library_id, kind, operation, retry_count, max_retries
		FROM sync_queue
		WHERE library_id = ? AND kind = ?
		  AND processed_at IS NULL
		  AND retry_count <= max_retries
		  AND next_retry_at <= ?
		  AND (leased_until IS NULL OR leased_until <= ?)
		ORDER BY CASE entity_type WHEN 'collection' THEN 0 ELSE 1 END, id ASC
		LIMIT ?`,
		libraryID, string(kind), now(), now(), limit)
	if err != nil {
		return nil, fmt.Errorf("queue: selecting pending entries: %w", err)
	}

	var entries []Entry

	for rows.Next() {
		var (
			e         Entry
			entKind   string
		)

		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityKey, &e.LibraryID, &entKind, &e.Operation, &e.RetryCount, &e.MaxRetries); err != nil {
			rows.Close()
			return nil, fmt.Errorf("queue: scanning entry: %w", err)
		}

		e.Kind = zoteroapi.LibraryKind(entKind)
		entries = append(entries, e)
	}

	rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	leaseUntil := time.Now().UTC().Add(q.leaseDuration).Format(rfc3339Milli)

	for _, e := range entries {
		if _, err := conn.ExecContext(ctx, `UPDATE sync_queue SET leased_until = ? WHERE id = ?`, leaseUntil, e.ID); err != nil {
			return nil, fmt.Errorf("queue: leasing entry %d: %w", e.ID, err)
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, fmt.Errorf("queue: committing lease: %w", err)
	}

	committed = true

	return entries, nil
}

// MarkCompleted marks a leased entry processed.
func (q *Queue) MarkCompleted(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `UPDATE sync_queue SET processed_at = ?, leased_until = NULL WHERE id = ?`, now(), id)
	if err != nil {
		return fmt.Errorf("queue: marking entry %d completed: %w", id, err)
	}

	return nil
}

// MarkFailed records a failed attempt, releasing the lease and scheduling
// the next retry exponentially: next_retry_at = now + 2^retry_count
// minutes. Once retry_count exceeds max_retries the entry is left
// unprocessed and is no longer leased, surfaced by Stats as failed.
func (q *Queue) MarkFailed(ctx context.Context, id int64, retryCount int, lastErr string) error {
	delay := time.Duration(1<<uint(retryCount)) * time.Minute
	nextRetry := time.Now().UTC().Add(delay).Format(rfc3339Milli)

	_, err := q.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET retry_count = ?, next_retry_at = ?, last_error = ?, leased_until = NULL
		WHERE id = ?`,
		retryCount+1, nextRetry, lastErr, id)
	if err != nil {
		return fmt.Errorf("queue: marking entry %d failed: %w", id, err)
	}

	return nil
}

// Cleanup deletes processed entries older than olderThanDays, bounding the
// table's unbounded growth.
func (q *Queue) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays).Format(rfc3339Milli)

	res, err := q.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE processed_at IS NOT NULL AND processed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("queue: cleaning up processed entries: %w", err)
	}

	n, _ := res.RowsAffected()

	return n, nil
}

// Stats reports the current backlog composition.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var s Stats

	row := q.db.QueryRowContext(ctx, `
		SELECT
			SUM(CASE WHEN processed_at IS NULL AND (leased_until IS NULL OR leased_until <= ?) AND retry_count <= max_retries AND next_retry_at <= ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN processed_at IS NULL AND leased_until IS NOT NULL AND leased_until > ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN processed_at IS NULL AND retry_count > max_retries THEN 1 ELSE 0 END)
		FROM sync_queue`, now(), now(), now())

	var pending, leased, failed sql.NullInt64

	if err := row.Scan(&pending, &leased, &failed); err != nil {
		return s, fmt.Errorf("queue: computing stats: %w", err)
	}

	s.Pending = pending.Int64
	s.Leased = leased.Int64
	s.Failed = failed.Int64

	return s, nil
}

func now() string {
	return time.Now().UTC().Format(rfc3339Milli)
}
