package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/zotero-sync/internal/store"
	"github.com/tonimelisma/zotero-sync/internal/testsupport"
	"github.com/tonimelisma/zotero-sync/internal/zoteroapi"
)

func TestEnsureLibrary_InsertsNewGroupInactiveByDefault(t *testing.T) {
	s := testsupport.NewStore(t)
	ctx := context.Background()

	lib, err := s.EnsureLibrary(ctx, 42, zoteroapi.KindGroup, false)
	require.NoError(t, err)
	assert.False(t, lib.Active)
	assert.Equal(t, zoteroapi.DirectionToLocal, lib.Direction)
	assert.Equal(t, 0, lib.Version)
}

func TestEnsureLibrary_IsIdempotent(t *testing.T) {
	s := testsupport.NewStore(t)
	ctx := context.Background()

	first, err := s.EnsureLibrary(ctx, 7, zoteroapi.KindUser, true)
	require.NoError(t, err)

	require.NoError(t, s.CommitVersions(ctx, 7, zoteroapi.KindUser, 5, 5, 5))

	second, err := s.EnsureLibrary(ctx, 7, zoteroapi.KindUser, true)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 5, second.CollectionVersion, "ensure must not reset an existing row")
}

func TestClearLocal_ZeroesWatermarksAndTruncates(t *testing.T) {
	s := testsupport.NewStore(t)
	ctx := context.Background()

	_, err := s.EnsureLibrary(ctx, 1, zoteroapi.KindUser, true)
	require.NoError(t, err)
	require.NoError(t, s.CommitVersions(ctx, 1, zoteroapi.KindUser, 3, 3, 3))
	require.NoError(t, s.UpsertCollection(ctx, 1, zoteroapi.KindUser, "C1", 3, []byte(`{}`), []byte(`{}`), zoteroapi.StatusSynced))

	require.NoError(t, s.ClearLocal(ctx, 1, zoteroapi.KindUser))

	lib, err := s.GetLibrary(ctx, 1, zoteroapi.KindUser)
	require.NoError(t, err)
	assert.Equal(t, 0, lib.CollectionVersion)

	_, err = s.GetCollection(ctx, "C1", 1, zoteroapi.KindUser)
	assert.ErrorIs(t, err, store.ErrEmptyResult)
}

func TestDeleteLibrariesNotIn_CascadesEntities(t *testing.T) {
	s := testsupport.NewStore(t)
	ctx := context.Background()

	_, err := s.EnsureLibrary(ctx, 100, zoteroapi.KindGroup, true)
	require.NoError(t, err)
	require.NoError(t, s.UpsertItem(ctx, 100, zoteroapi.KindGroup, "I1", 1, []byte(`{}`), []byte(`{}`), false, zoteroapi.StatusSynced, ""))

	require.NoError(t, s.DeleteLibrariesNotIn(ctx, zoteroapi.KindGroup, nil))

	_, err = s.GetLibrary(ctx, 100, zoteroapi.KindGroup)
	assert.ErrorIs(t, err, store.ErrEmptyResult)

	_, err = s.GetItem(ctx, "I1", 100, zoteroapi.KindGroup)
	assert.ErrorIs(t, err, store.ErrEmptyResult)
}
