// Package registry implements the Library Registry (C3): discovery of the
// user library and accessible groups, and the lifecycle of per-library
// sync records.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/zotero-sync/internal/store"
	"github.com/tonimelisma/zotero-sync/internal/zoteroapi"
)

// RemoteClient is the subset of *zoteroapi.Client the registry drives.
type RemoteClient interface {
	KeyInfo(ctx context.Context) (*zoteroapi.APIKeyInfo, error)
	ListGroupVersions(ctx context.Context, userID int64) (map[string]int, error)
	GetGroup(ctx context.Context, groupID int64) (*zoteroapi.GroupData, error)
}

// LibraryStore is the subset of *store.Store the registry drives.
type LibraryStore interface {
	EnsureLibrary(ctx context.Context, id int64, kind zoteroapi.LibraryKind, newGroupActive bool) (*store.Library, error)
	GetLibrary(ctx context.Context, id int64, kind zoteroapi.LibraryKind) (*store.Library, error)
	ListActiveLibraries(ctx context.Context) ([]store.Library, error)
	DeleteLibrariesNotIn(ctx context.Context, kind zoteroapi.LibraryKind, keep []int64) error
	ClearLocal(ctx context.Context, id int64, kind zoteroapi.LibraryKind) error
	UpdateGroupData(ctx context.Context, id int64, version int, data []byte) error
	EnforceReadOnly(ctx context.Context, id int64, kind zoteroapi.LibraryKind) error
}

// Engine is the subset of the sync engine the registry drives — one full
// sync for one library.
type Engine interface {
	Sync(ctx context.Context, lib store.Library) error
}

// Registry discovers and maintains the set of locally mirrored libraries.
type Registry struct {
	remote RemoteClient
	store  LibraryStore
	engine Engine
	logger *slog.Logger

	// SyncOnly restricts batch sync to these library ids when non-empty.
	SyncOnly []int64
	// ClearBeforeSync forces a clear_local before syncing these library ids.
	ClearBeforeSync []int64
	// ClearAll forces a clear_local before syncing every library this run
	// touches, for the CLI's unscoped --clear flag.
	ClearAll bool
	// NewGroupActive is the default `active` flag for newly discovered groups.
	NewGroupActive bool
	// MaxConcurrency bounds how many libraries this run syncs in parallel.
	// A value <= 1 syncs libraries one at a time.
	MaxConcurrency int
}

// New builds a Registry.
func New(remote RemoteClient, st LibraryStore, engine Engine, logger *slog.Logger) *Registry {
	return &Registry{remote: remote, store: st, engine: engine, logger: logger}
}

// RunBatchSync performs one full discovery-and-sync pass over every
// accessible library: the user's own library first, then every group the
// API key can see, up to MaxConcurrency groups at a time, all logged under a
// shared run id.
func (r *Registry) RunBatchSync(ctx context.Context) error {
	runID := uuid.New().String()
	logger := r.logger.With("run_id", runID)
	logger.Info("registry: starting batch sync run")

	info, err := r.remote.KeyInfo(ctx)
	if err != nil {
		return fmt.Errorf("registry: resolving api key: %w", err)
	}

	groupVersions, err := r.remote.ListGroupVersions(ctx, info.UserID)
	if err != nil {
		return fmt.Errorf("registry: listing group versions: %w", err)
	}

	var (
		mu             sync.Mutex
		syncedGroupIDs []int64
		remoteGroupIDs []int64
	)

	if r.allowed(info.UserID) {
		if err := r.syncOne(ctx, info.UserID, zoteroapi.KindUser); err != nil {
			logger.Error("registry: user library sync failed", slog.Int64("user_id", info.UserID), slog.String("error", err.Error()))
		}
	}

	// Libraries are independent units of work sharing only the database pool
	// and the API client, both safe for concurrent use, so groups sync up to
	// MaxConcurrency at a time instead of strictly one after another.
	g, gctx := errgroup.WithContext(ctx)
	if r.MaxConcurrency > 1 {
		g.SetLimit(r.MaxConcurrency)
	} else {
		g.SetLimit(1)
	}

	for groupIDStr, remoteVersion := range groupVersions {
		groupID, perr := parseID(groupIDStr)
		if perr != nil {
			logger.Warn("registry: skipping malformed group id", slog.String("id", groupIDStr))
			continue
		}

		remoteGroupIDs = append(remoteGroupIDs, groupID)

		if !r.allowed(groupID) {
			continue
		}

		access, ok := info.Access.Groups[groupIDStr]
		if !ok {
			access = info.Access.Groups["all"]
		}

		g.Go(func() error {
			if !access.Write {
				if err := r.store.EnforceReadOnly(gctx, groupID, zoteroapi.KindGroup); err != nil {
					logger.Error("registry: enforcing read-only direction failed", slog.Int64("group_id", groupID), slog.String("error", err.Error()))
				}
			}

			if err := r.syncOne(gctx, groupID, zoteroapi.KindGroup); err != nil {
				logger.Error("registry: group library sync failed", slog.Int64("group_id", groupID), slog.String("error", err.Error()))
				return nil
			}

			if err := r.refreshGroupIfDrifted(gctx, groupID, remoteVersion); err != nil {
				logger.Error("registry: group metadata refresh failed", slog.Int64("group_id", groupID), slog.String("error", err.Error()))
			}

			mu.Lock()
			syncedGroupIDs = append(syncedGroupIDs, groupID)
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("registry: group sync fan-out: %w", err)
	}

	if err := r.store.DeleteLibrariesNotIn(ctx, zoteroapi.KindGroup, remoteGroupIDs); err != nil {
		return err
	}

	logger.Info("registry: batch sync run complete", slog.Int("groups_synced", len(syncedGroupIDs)))

	return nil
}

func (r *Registry) allowed(id int64) bool {
	if len(r.SyncOnly) == 0 {
		return true
	}

	for _, v := range r.SyncOnly {
		if v == id {
			return true
		}
	}

	return false
}

func (r *Registry) shouldClear(id int64) bool {
	if r.ClearAll {
		return true
	}

	for _, v := range r.ClearBeforeSync {
		if v == id {
			return true
		}
	}

	return false
}

// syncOne ensures a local row exists, honors active/clear_before_sync, and
// invokes the sync engine for one library.
func (r *Registry) syncOne(ctx context.Context, id int64, kind zoteroapi.LibraryKind) error {
	lib, err := r.store.EnsureLibrary(ctx, id, kind, r.NewGroupActive)
	if err != nil {
		return fmt.Errorf("registry: ensuring library %d: %w", id, err)
	}

	if !lib.Active {
		return nil
	}

	if r.shouldClear(id) {
		if err := r.store.ClearLocal(ctx, id, kind); err != nil {
			return fmt.Errorf("registry: clearing library %d before sync: %w", id, err)
		}

		lib, err = r.store.GetLibrary(ctx, id, kind)
		if err != nil {
			return fmt.Errorf("registry: reloading library %d after clear: %w", id, err)
		}
	}

	return r.engine.Sync(ctx, *lib)
}

// refreshGroupIfDrifted re-fetches group metadata when the local version is
// behind remote, or the library is flagged deleted/modified.
func (r *Registry) refreshGroupIfDrifted(ctx context.Context, groupID int64, remoteVersion int) error {
	lib, err := r.store.GetLibrary(ctx, groupID, zoteroapi.KindGroup)
	if err != nil {
		return fmt.Errorf("registry: loading group %d: %w", groupID, err)
	}

	if lib.Version >= remoteVersion && !lib.Deleted && !lib.IsModified {
		return nil
	}

	group, err := r.remote.GetGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("registry: fetching group %d metadata: %w", groupID, err)
	}

	data, err := json.Marshal(group)
	if err != nil {
		return fmt.Errorf("registry: encoding group %d metadata: %w", groupID, err)
	}

	return r.store.UpdateGroupData(ctx, groupID, group.Version, data)
}

func parseID(s string) (int64, error) {
	var id int64

	_, err := fmt.Sscanf(s, "%d", &id)

	return id, err
}
