package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rawblock/entropy-scorer/internal/metrics"
	"github.com/rawblock/entropy-scorer/internal/partition"
	"github.com/rawblock/entropy-scorer/internal/persist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// connect returns a store against DATABASE_URL or skips the test.
func connect(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping PostgreSQL tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := Connect(ctx, url)
	require.NoError(t, err)
	require.NoError(t, store.InitSchema(ctx))
	t.Cleanup(store.Close)
	return store
}

func snapshot(t *testing.T) *persist.Snapshot {
	t.Helper()
	ref := partition.New(map[metrics.EntityID]metrics.Label{"a": "X", "b": "X", "c": "Y", "d": "Y"})
	cand := partition.New(map[metrics.EntityID]metrics.Label{"a": "1", "b": "1", "c": "1", "d": "2"})
	table := metrics.BuildContingency(ref, cand)
	result, err := metrics.Calculate(table)
	require.NoError(t, err)
	return &persist.Snapshot{
		RunID:     uuid.NewString(),
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		Table:     table,
		Result:    result,
		Index:     metrics.BuildClusterIndex(ref),
	}
}

func TestSaveLoadRun(t *testing.T) {
	store := connect(t)
	ctx := context.Background()
	snap := snapshot(t)
	t.Cleanup(func() { _ = store.DeleteRun(ctx, snap.RunID) })

	require.NoError(t, store.SaveRun(ctx, snap))
	// Archiving again replaces the run instead of failing.
	require.NoError(t, store.SaveRun(ctx, snap))

	loaded, err := store.LoadRun(ctx, snap.RunID)
	require.NoError(t, err)
	assert.Equal(t, snap.Table.Cells(), loaded.Table.Cells())
	assert.Equal(t, snap.Index.Groups(), loaded.Index.Groups())
	assert.InDelta(t, snap.Result.Quality(), loaded.Result.Quality(), 1e-9)

	runs, total, err := store.ListRuns(ctx, 1, 500)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 1)
	found := false
	for _, r := range runs {
		if r.RunID == snap.RunID {
			found = true
			assert.Equal(t, 4, r.TotalEntities)
		}
	}
	assert.True(t, found)
}

func TestLoadRun_NotFound(t *testing.T) {
	store := connect(t)

	_, err := store.LoadRun(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, store.DeleteRun(context.Background(), uuid.NewString()), ErrRunNotFound)
}
