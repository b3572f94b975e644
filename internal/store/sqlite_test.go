package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "grid.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoadGridSnapshot_NoneReturnsNil(t *testing.T) {
	s := openTestStore(t)
	snap, err := s.LoadGridSnapshot(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestStoreGridSnapshot_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	snap := Snapshot{
		BotKey:        "bot-1",
		AssetA:        "BTS",
		AssetB:        "USD",
		PrecisionA:    5,
		PrecisionB:    4,
		BoundaryIndex: 10,
		Slots: []SlotSnapshot{
			{ID: "slot-0", Price: "0.01", Type: "BUY", State: "VIRTUAL"},
		},
	}
	require.NoError(t, s.StoreGridSnapshot(ctx, snap))

	loaded, err := s.LoadGridSnapshot(ctx, "bot-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, snap.BoundaryIndex, loaded.BoundaryIndex)
	assert.Equal(t, snap.AssetA, loaded.AssetA)
	assert.Len(t, loaded.Slots, 1)
	assert.NotEmpty(t, loaded.LineageID, "a lineage id must be assigned on first write")
}

func TestStoreGridSnapshot_OverwritesExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreGridSnapshot(ctx, Snapshot{BotKey: "bot-1", BoundaryIndex: 1}))
	require.NoError(t, s.StoreGridSnapshot(ctx, Snapshot{BotKey: "bot-1", BoundaryIndex: 2}))

	loaded, err := s.LoadGridSnapshot(ctx, "bot-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 2, loaded.BoundaryIndex)
}
