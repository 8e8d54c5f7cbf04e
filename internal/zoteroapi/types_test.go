package zoteroapi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParentCollection_DecodesFalseAndNullAsAbsent(t *testing.T) {
	for _, raw := range []string{"false", "null"} {
		var p ParentCollection
		require.NoError(t, json.Unmarshal([]byte(raw), &p))
		assert.False(t, p.Valid)
		assert.Empty(t, p.Key)
	}
}

func TestParentCollection_DecodesStringAsKey(t *testing.T) {
	var p ParentCollection
	require.NoError(t, json.Unmarshal([]byte(`"ABC123XY"`), &p))
	assert.True(t, p.Valid)
	assert.Equal(t, "ABC123XY", p.Key)
}

func TestParentCollection_MarshalsAbsentAsFalse(t *testing.T) {
	out, err := json.Marshal(ParentCollection{})
	require.NoError(t, err)
	assert.Equal(t, "false", string(out))
}

func TestItemData_RoundTripsExtraFields(t *testing.T) {
	raw := []byte(`{"key":"AB1","version":3,"itemType":"book","title":"T","publisher":"Acme","numPages":"12"}`)

	var item ItemData
	require.NoError(t, json.Unmarshal(raw, &item))
	assert.Equal(t, "Acme", item.ExtraFields["publisher"])
	assert.Equal(t, "12", item.ExtraFields["numPages"])

	out, err := json.Marshal(item)
	require.NoError(t, err)

	var roundTripped map[string]any
	require.NoError(t, json.Unmarshal(out, &roundTripped))
	assert.Equal(t, "Acme", roundTripped["publisher"])
	assert.Equal(t, "book", roundTripped["itemType"])
}

func TestDirection_CanUploadCanDownload(t *testing.T) {
	cases := []struct {
		dir          Direction
		canUpload    bool
		canDownload  bool
	}{
		{DirectionNone, false, false},
		{DirectionToCloud, true, false},
		{DirectionToLocal, false, true},
		{DirectionBothCloud, true, true},
		{DirectionBothLocal, true, true},
		{DirectionBothManual, true, true},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.canUpload, tc.dir.CanUpload(), "CanUpload for %s", tc.dir)
		assert.Equal(t, tc.canDownload, tc.dir.CanDownload(), "CanDownload for %s", tc.dir)
	}
}
