package registry_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/zotero-sync/internal/registry"
	"github.com/tonimelisma/zotero-sync/internal/store"
	"github.com/tonimelisma/zotero-sync/internal/testsupport"
	"github.com/tonimelisma/zotero-sync/internal/zoteroapi"
)

type fakeRemote struct {
	info          *zoteroapi.APIKeyInfo
	groupVersions map[string]int
	groups        map[int64]*zoteroapi.GroupData
}

func (f *fakeRemote) KeyInfo(context.Context) (*zoteroapi.APIKeyInfo, error) { return f.info, nil }
func (f *fakeRemote) ListGroupVersions(context.Context, int64) (map[string]int, error) {
	return f.groupVersions, nil
}
func (f *fakeRemote) GetGroup(_ context.Context, id int64) (*zoteroapi.GroupData, error) {
	return f.groups[id], nil
}

type fakeEngine struct {
	synced []int64
}

func (f *fakeEngine) Sync(_ context.Context, lib store.Library) error {
	f.synced = append(f.synced, lib.ID)
	return nil
}

func newTestRegistry(t *testing.T, remote *fakeRemote, engine *fakeEngine) (*registry.Registry, *store.Store) {
	t.Helper()

	s := testsupport.NewStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return registry.New(remote, s, engine, logger), s
}

func TestRunBatchSync_DiscoversUserAndGroupLibraries(t *testing.T) {
	remote := &fakeRemote{
		info: &zoteroapi.APIKeyInfo{
			UserID: 1,
			Access: zoteroapi.APIKeyAccess{
				Groups: map[string]zoteroapi.APIKeyAccessLibrary{"2": {Library: true, Write: true}},
			},
		},
		groupVersions: map[string]int{"2": 10},
		groups:        map[int64]*zoteroapi.GroupData{2: {ID: 2, Version: 10, Name: "G"}},
	}

	engine := &fakeEngine{}
	reg, _ := newTestRegistry(t, remote, engine)
	reg.NewGroupActive = true

	require.NoError(t, reg.RunBatchSync(context.Background()))

	assert.ElementsMatch(t, []int64{1, 2}, engine.synced)
}

func TestRunBatchSync_RespectsSyncOnlyAllowlist(t *testing.T) {
	remote := &fakeRemote{
		info:          &zoteroapi.APIKeyInfo{UserID: 1},
		groupVersions: map[string]int{"2": 10, "3": 5},
		groups: map[int64]*zoteroapi.GroupData{
			2: {ID: 2, Version: 10},
			3: {ID: 3, Version: 5},
		},
	}

	engine := &fakeEngine{}
	reg, _ := newTestRegistry(t, remote, engine)
	reg.NewGroupActive = true
	reg.SyncOnly = []int64{2}

	require.NoError(t, reg.RunBatchSync(context.Background()))

	assert.ElementsMatch(t, []int64{2}, engine.synced)
}

func TestRunBatchSync_InactiveGroupIsSkipped(t *testing.T) {
	remote := &fakeRemote{
		info:          &zoteroapi.APIKeyInfo{UserID: 1},
		groupVersions: map[string]int{"9": 1},
		groups:        map[int64]*zoteroapi.GroupData{9: {ID: 9, Version: 1}},
	}

	engine := &fakeEngine{}
	reg, _ := newTestRegistry(t, remote, engine)
	reg.NewGroupActive = false // new groups default inactive

	require.NoError(t, reg.RunBatchSync(context.Background()))

	assert.NotContains(t, engine.synced, int64(9))
}
