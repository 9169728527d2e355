package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	for i, repo := range []string{"docs-site", "api-ref", "docs-site"} {
		err := store.Append(ctx, Record{
			BuildID:    "build-" + repo,
			Repository: repo,
			StartedAt:  now,
			FinishedAt: now.Add(time.Minute),
			UnitsTotal: 10 + i,
			UnitsBuilt: i,
			Succeeded:  i != 1,
			Summary:    map[string]string{"validation": "passed"},
		})
		require.NoError(t, err)
	}

	records, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Newest first.
	assert.Equal(t, "docs-site", records[0].Repository)
	assert.Equal(t, 12, records[0].UnitsTotal)
	assert.Equal(t, "api-ref", records[1].Repository)
	assert.False(t, records[1].Succeeded)
	assert.Equal(t, "passed", records[0].Summary["validation"])
}

func TestByRepository(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.Append(ctx, Record{BuildID: "b1", Repository: "a", StartedAt: now, FinishedAt: now}))
	require.NoError(t, store.Append(ctx, Record{BuildID: "b2", Repository: "b", StartedAt: now, FinishedAt: now}))
	require.NoError(t, store.Append(ctx, Record{BuildID: "b3", Repository: "a", StartedAt: now, FinishedAt: now}))

	records, err := store.ByRepository(ctx, "a")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "b3", records[0].BuildID)
	assert.Equal(t, "b1", records[1].BuildID)
}

func TestRecentEmptyStore(t *testing.T) {
	store := newTestStore(t)

	records, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}
