package handoff_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/initd/pkg/handoff"
	"github.com/cuemby/initd/pkg/types"
)

func TestStorePutGetRoundTrip(t *testing.T) {
	store, err := handoff.OpenStore(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	defer store.Close()

	rec := types.CheckpointRecord{
		ID:          "rec-1",
		Component:   "web",
		OriginalPID: 1234,
		Timestamp:   time.Now().Truncate(time.Second),
		DumpPath:    "/var/lib/initd/checkpoints/rec-1",
	}
	require.NoError(t, store.Put(rec))

	got, found, err := store.Get("rec-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec.Component, got.Component)
	assert.Equal(t, rec.OriginalPID, got.OriginalPID)
}

func TestStoreListFiltersByComponentAndOrdersMostRecentFirst(t *testing.T) {
	store, err := handoff.OpenStore(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	defer store.Close()

	older := types.CheckpointRecord{ID: "a", Component: "web", Timestamp: time.Now().Add(-time.Hour)}
	newer := types.CheckpointRecord{ID: "b", Component: "web", Timestamp: time.Now()}
	other := types.CheckpointRecord{ID: "c", Component: "db", Timestamp: time.Now()}
	require.NoError(t, store.Put(older))
	require.NoError(t, store.Put(newer))
	require.NoError(t, store.Put(other))

	recs, err := store.List("web")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[0].ID)
	assert.Equal(t, "a", recs[1].ID)
}

func TestStoreRemove(t *testing.T) {
	store, err := handoff.OpenStore(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put(types.CheckpointRecord{ID: "gone", Component: "web"}))
	require.NoError(t, store.Remove("gone"))

	_, found, err := store.Get("gone")
	require.NoError(t, err)
	assert.False(t, found)
}
