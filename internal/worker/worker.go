// Package worker implements the event-driven outbound worker (C6): a
// long-running poller that drains the outbound queue for libraries
// configured with outgoing_sync=event_driven, independent of the batch
// sync engine's full-library cycles.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/zotero-sync/internal/notify"
	"github.com/tonimelisma/zotero-sync/internal/queue"
	"github.com/tonimelisma/zotero-sync/internal/store"
	"github.com/tonimelisma/zotero-sync/internal/zoteroapi"
)

// Queue is the subset of *queue.Queue the worker drives.
type Queue interface {
	LibrariesWithPending(ctx context.Context) ([]struct {
		LibraryID int64
		Kind      zoteroapi.LibraryKind
	}, error)
	FetchPending(ctx context.Context, libraryID int64, kind zoteroapi.LibraryKind, limit int) ([]queue.Entry, error)
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, retryCount int, lastErr string) error
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// RemoteClient is the subset of *zoteroapi.Client the worker drives.
type RemoteClient interface {
	UpsertCollection(ctx context.Context, lib zoteroapi.LibraryRef, data zoteroapi.CollectionData, ifUnmodVersion int) (int, error)
	DeleteCollection(ctx context.Context, lib zoteroapi.LibraryRef, key string, ifUnmodVersion int) (int, error)
	UpsertItem(ctx context.Context, lib zoteroapi.LibraryRef, data zoteroapi.ItemData, ifUnmodVersion int) (int, error)
	DeleteItem(ctx context.Context, lib zoteroapi.LibraryRef, key string, ifUnmodVersion int) (int, error)
}

// Store is the subset of *store.Store the worker drives.
type Store interface {
	GetCollection(ctx context.Context, key string, libID int64, kind zoteroapi.LibraryKind) (*store.Collection, error)
	UpsertCollection(ctx context.Context, libID int64, kind zoteroapi.LibraryKind, key string, version int, data, meta []byte, status zoteroapi.SyncStatus) error
	GetItem(ctx context.Context, key string, libID int64, kind zoteroapi.LibraryKind) (*store.Item, error)
	UpsertItem(ctx context.Context, libID int64, kind zoteroapi.LibraryKind, key string, version int, data, meta []byte, trashed bool, status zoteroapi.SyncStatus, md5 string) error
	CommitVersions(ctx context.Context, id int64, kind zoteroapi.LibraryKind, collectionVersion, itemVersion, tagVersion int) error
	GetLibrary(ctx context.Context, id int64, kind zoteroapi.LibraryKind) (*store.Library, error)
}

const defaultBatchSize = 50

// Notifier publishes drain-cycle events to live subscribers. A nil Notifier
// disables publishing entirely; it never affects drain correctness.
type Notifier interface {
	Publish(ctx context.Context, event notify.Event)
}

// Worker polls the outbound queue at a fixed interval, dispatching leased
// entries to the remote API and persisting the resulting version watermark.
type Worker struct {
	queue    Queue
	remote   RemoteClient
	store    Store
	logger   *slog.Logger
	notifier Notifier
	tick     int
}

// New builds a Worker.
func New(q Queue, remote RemoteClient, st Store, logger *slog.Logger) *Worker {
	return &Worker{queue: q, remote: remote, store: st, logger: logger}
}

// WithNotifier attaches a Notifier the worker publishes drain events to.
func (w *Worker) WithNotifier(n Notifier) *Worker {
	w.notifier = n
	return w
}

func (w *Worker) publish(ctx context.Context, event notify.Event) {
	if w.notifier == nil {
		return
	}

	w.notifier.Publish(ctx, event)
}

// Run polls forever at interval until ctx is canceled, cleaning up
// processed queue rows every 100 ticks.
func (w *Worker) Run(ctx context.Context, interval time.Duration, batchSize int) error {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx, batchSize); err != nil {
			w.logger.Error("worker: tick failed", "error", err.Error())
		}

		w.tick++

		if w.tick%100 == 0 {
			if n, err := w.queue.Cleanup(ctx, 7); err != nil {
				w.logger.Error("worker: cleanup failed", "error", err.Error())
			} else if n > 0 {
				w.logger.Info("worker: cleaned up processed entries", "count", n)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce drains one batch of pending entries per library with pending
// work, used both by Run's loop and by a one-shot "--once" CLI mode.
func (w *Worker) RunOnce(ctx context.Context, batchSize int) error {
	libs, err := w.queue.LibrariesWithPending(ctx)
	if err != nil {
		return fmt.Errorf("worker: listing libraries with pending work: %w", err)
	}

	for _, lib := range libs {
		if err := w.drainLibrary(ctx, lib.LibraryID, lib.Kind, batchSize); err != nil {
			w.logger.Error("worker: draining library failed", "library_id", lib.LibraryID, "error", err.Error())
		}
	}

	return nil
}

func (w *Worker) drainLibrary(ctx context.Context, libraryID int64, kind zoteroapi.LibraryKind, batchSize int) error {
	entries, err := w.queue.FetchPending(ctx, libraryID, kind, batchSize)
	if err != nil {
		return fmt.Errorf("fetching pending entries: %w", err)
	}

	if len(entries) == 0 {
		return nil
	}

	ref := zoteroapi.LibraryRef{ID: libraryID, Kind: kind}

	w.publish(ctx, notify.Event{Type: "drain_started", LibraryID: libraryID, Count: len(entries)})

	highestVersion := 0

	for _, e := range entries {
		newVersion, err := w.dispatch(ctx, ref, e)
		if err != nil {
			if errors.Is(err, zoteroapi.ErrConflict) {
				w.logger.Warn("worker: entry superseded by remote change, will resolve on next full sync",
					"library_id", libraryID, "entity", e.EntityType, "key", e.EntityKey)

				if markErr := w.queue.MarkCompleted(ctx, e.ID); markErr != nil {
					return markErr
				}

				continue
			}

			if e.RetryCount >= e.MaxRetries {
				w.logger.Error("worker: entry exhausted retries", "library_id", libraryID, "entity", e.EntityType, "key", e.EntityKey)
			}

			if markErr := w.queue.MarkFailed(ctx, e.ID, e.RetryCount, err.Error()); markErr != nil {
				return markErr
			}

			continue
		}

		if err := w.queue.MarkCompleted(ctx, e.ID); err != nil {
			return err
		}

		if newVersion > highestVersion {
			highestVersion = newVersion
		}
	}

	w.publish(ctx, notify.Event{Type: "drain_completed", LibraryID: libraryID, Count: len(entries)})

	if highestVersion == 0 {
		return nil
	}

	lib, err := w.store.GetLibrary(ctx, libraryID, kind)
	if err != nil {
		return fmt.Errorf("reloading library for version commit: %w", err)
	}

	itemVersion := lib.ItemVersion
	if highestVersion > itemVersion {
		itemVersion = highestVersion
	}

	return w.store.CommitVersions(ctx, libraryID, kind, lib.CollectionVersion, itemVersion, lib.TagVersion)
}

func (w *Worker) dispatch(ctx context.Context, ref zoteroapi.LibraryRef, e queue.Entry) (int, error) {
	switch e.EntityType {
	case "collection":
		return w.dispatchCollection(ctx, ref, e)
	case "item":
		return w.dispatchItem(ctx, ref, e)
	default:
		return 0, fmt.Errorf("worker: unknown entity type %q", e.EntityType)
	}
}

func (w *Worker) dispatchCollection(ctx context.Context, ref zoteroapi.LibraryRef, e queue.Entry) (int, error) {
	c, err := w.store.GetCollection(ctx, e.EntityKey, e.LibraryID, e.Kind)
	if err != nil {
		return 0, fmt.Errorf("loading collection %s: %w", e.EntityKey, err)
	}

	if e.Operation == "delete" || c.Deleted {
		return w.remote.DeleteCollection(ctx, ref, e.EntityKey, c.Version)
	}

	var data zoteroapi.CollectionData
	if err := json.Unmarshal(c.Data, &data); err != nil {
		return 0, fmt.Errorf("decoding collection %s: %w", e.EntityKey, err)
	}

	newVersion, err := w.remote.UpsertCollection(ctx, ref, data, c.Version)
	if err != nil {
		return 0, err
	}

	if err := w.store.UpsertCollection(ctx, e.LibraryID, e.Kind, e.EntityKey, newVersion, c.Data, c.Meta, zoteroapi.StatusSynced); err != nil {
		return 0, fmt.Errorf("marking collection %s synced: %w", e.EntityKey, err)
	}

	return newVersion, nil
}

func (w *Worker) dispatchItem(ctx context.Context, ref zoteroapi.LibraryRef, e queue.Entry) (int, error) {
	it, err := w.store.GetItem(ctx, e.EntityKey, e.LibraryID, e.Kind)
	if err != nil {
		return 0, fmt.Errorf("loading item %s: %w", e.EntityKey, err)
	}

	if e.Operation == "delete" || it.Deleted {
		return w.remote.DeleteItem(ctx, ref, e.EntityKey, it.Version)
	}

	var data zoteroapi.ItemData
	if err := json.Unmarshal(it.Data, &data); err != nil {
		return 0, fmt.Errorf("decoding item %s: %w", e.EntityKey, err)
	}

	newVersion, err := w.remote.UpsertItem(ctx, ref, data, it.Version)
	if err != nil {
		return 0, err
	}

	if err := w.store.UpsertItem(ctx, e.LibraryID, e.Kind, e.EntityKey, newVersion, it.Data, it.Meta, it.Trashed, zoteroapi.StatusSynced, it.MD5); err != nil {
		return 0, fmt.Errorf("marking item %s synced: %w", e.EntityKey, err)
	}

	return newVersion, nil
}
