package progress

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "progress.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndGet(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.Save("provider:vod:55", 120.5, 5400))

	pos, ok, err := s.Get("provider:vod:55")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "provider:vod:55", pos.ItemID)
	assert.InDelta(t, 120.5, pos.Seconds, 0.001)
	assert.InDelta(t, 5400, pos.Duration, 0.001)

	_, ok, err = s.Get("no:such:item")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveUpserts(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.Save("item", 100, 5400))
	require.NoError(t, s.Save("item", 250, 5400))

	pos, ok, err := s.Get("item")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 250, pos.Seconds, 0.001)
}

func TestWatchedToCompletionClearsResumePoint(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.Save("item", 100, 5400))
	require.NoError(t, s.Save("item", 5300, 5400))

	_, ok, err := s.Get("item")
	require.NoError(t, err)
	assert.False(t, ok, "positions near the end clear the resume point")
}

func TestDelete(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Save("item", 100, 5400))
	require.NoError(t, s.Delete("item"))

	_, ok, err := s.Get("item")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, s.Delete("never-existed"))
}

func TestInvalidRecordsRejected(t *testing.T) {
	s := testStore(t)
	assert.Error(t, s.Save("", 100, 0))
	assert.Error(t, s.Save("item", -1, 0))
}

func TestPrune(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Save("fresh", 100, 5400))

	n, err := s.Prune(time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n, "recent records survive pruning")

	n, err = s.Prune(-time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
