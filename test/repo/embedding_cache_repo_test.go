package repo_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docask/internal/model"
	"github.com/xxxsen/docask/internal/repo"
	"github.com/xxxsen/docask/test/testutil"
)

// newCacheModel gives each test its own model name so rows can be cleaned
// up without touching entries written by concurrent runs.
func newCacheModel(t *testing.T, conn *sql.DB) string {
	t.Helper()
	modelName := "test-embed-" + testutil.NewID(t)
	t.Cleanup(func() {
		_, _ = conn.Exec(`DELETE FROM embedding_cache WHERE model_name = $1`, modelName)
	})
	return modelName
}

func TestEmbeddingCacheRepoSaveGet(t *testing.T) {
	conn, closer := testutil.OpenTestDB(t)
	defer closer()
	ctx := context.Background()
	cache := repo.NewEmbeddingCacheRepo(conn)
	modelName := newCacheModel(t, conn)
	now := time.Now().UnixMilli()

	_, found, err := cache.Get(ctx, modelName, "RETRIEVAL_DOCUMENT", "h1")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, cache.Save(ctx, &model.EmbeddingCache{
		ModelName:   modelName,
		TaskType:    "RETRIEVAL_DOCUMENT",
		ContentHash: "h1",
		Embedding:   unitVector(0),
		Ctime:       now,
	}))

	vec, found, err := cache.Get(ctx, modelName, "RETRIEVAL_DOCUMENT", "h1")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, vec, embedDim)
	require.InDelta(t, 1.0, vec[0], 1e-6)

	// The same key under another task type is a distinct entry.
	_, found, err = cache.Get(ctx, modelName, "RETRIEVAL_QUERY", "h1")
	require.NoError(t, err)
	require.False(t, found)

	// Saving again replaces the stored vector.
	require.NoError(t, cache.Save(ctx, &model.EmbeddingCache{
		ModelName:   modelName,
		TaskType:    "RETRIEVAL_DOCUMENT",
		ContentHash: "h1",
		Embedding:   unitVector(1),
		Ctime:       now + 1,
	}))
	vec, found, err = cache.Get(ctx, modelName, "RETRIEVAL_DOCUMENT", "h1")
	require.NoError(t, err)
	require.True(t, found)
	require.InDelta(t, 0.0, vec[0], 1e-6)
	require.InDelta(t, 1.0, vec[1], 1e-6)
}

func TestEmbeddingCacheRepoBatchGet(t *testing.T) {
	conn, closer := testutil.OpenTestDB(t)
	defer closer()
	ctx := context.Background()
	cache := repo.NewEmbeddingCacheRepo(conn)
	modelName := newCacheModel(t, conn)
	now := time.Now().UnixMilli()

	for i, hash := range []string{"h1", "h2"} {
		require.NoError(t, cache.Save(ctx, &model.EmbeddingCache{
			ModelName:   modelName,
			TaskType:    "RETRIEVAL_DOCUMENT",
			ContentHash: hash,
			Embedding:   unitVector(i),
			Ctime:       now,
		}))
	}

	found, err := cache.BatchGet(ctx, modelName, "RETRIEVAL_DOCUMENT", []string{"h1", "h2", "h3"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	require.Contains(t, found, "h1")
	require.Contains(t, found, "h2")
	require.NotContains(t, found, "h3")
	require.InDelta(t, 1.0, found["h2"][1], 1e-6)

	empty, err := cache.BatchGet(ctx, modelName, "RETRIEVAL_DOCUMENT", nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestEmbeddingCacheRepoDeleteBefore(t *testing.T) {
	conn, closer := testutil.OpenTestDB(t)
	defer closer()
	ctx := context.Background()
	cache := repo.NewEmbeddingCacheRepo(conn)
	modelName := newCacheModel(t, conn)
	now := time.Now().UnixMilli()

	require.NoError(t, cache.Save(ctx, &model.EmbeddingCache{
		ModelName:   modelName,
		TaskType:    "RETRIEVAL_DOCUMENT",
		ContentHash: "old",
		Embedding:   unitVector(0),
		Ctime:       now - 120_000,
	}))
	require.NoError(t, cache.Save(ctx, &model.EmbeddingCache{
		ModelName:   modelName,
		TaskType:    "RETRIEVAL_DOCUMENT",
		ContentHash: "fresh",
		Embedding:   unitVector(1),
		Ctime:       now,
	}))

	deleted, err := cache.DeleteBefore(ctx, now-60_000)
	require.NoError(t, err)
	// The sweep spans all models, so the count is only a lower bound.
	require.GreaterOrEqual(t, deleted, int64(1))

	_, found, err := cache.Get(ctx, modelName, "RETRIEVAL_DOCUMENT", "old")
	require.NoError(t, err)
	require.False(t, found)
	_, found, err = cache.Get(ctx, modelName, "RETRIEVAL_DOCUMENT", "fresh")
	require.NoError(t, err)
	require.True(t, found)
}
