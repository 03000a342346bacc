package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIndexConfig() Config {
	return Config{M: 8, EfConstruction: 64, EfSearch: 32, Metric: MetricEuclidean}
}

func noopLoader(_ context.Context, _ uint32) ([]float32, error) { return nil, nil }

func TestIndex_Insert_PartitionsByNounType(t *testing.T) {
	ix := NewIndex(testIndexConfig(), 0, newTestCache(t))
	ctx := context.Background()

	_, _, err := ix.Insert(ctx, "person", 1, deterministicVector(1), noopLoader)
	require.NoError(t, err)
	_, _, err = ix.Insert(ctx, "document", 1, deterministicVector(99), noopLoader)
	require.NoError(t, err)

	personResults, err := ix.Search(ctx, "person", deterministicVector(1), 5)
	require.NoError(t, err)
	require.Len(t, personResults, 1)
	assert.Equal(t, uint32(1), personResults[0].ID)

	docResults, err := ix.Search(ctx, "document", deterministicVector(99), 5)
	require.NoError(t, err)
	require.Len(t, docResults, 1)
}

func TestIndex_Search_UnknownTypeReturnsNil(t *testing.T) {
	ix := NewIndex(testIndexConfig(), 0, newTestCache(t))
	results, err := ix.Search(context.Background(), "nonexistent", deterministicVector(1), 5)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestIndex_Delete_RemovesFromCorrectSubGraph(t *testing.T) {
	ix := NewIndex(testIndexConfig(), 0, newTestCache(t))
	ctx := context.Background()

	_, _, err := ix.Insert(ctx, "person", 1, deterministicVector(1), noopLoader)
	require.NoError(t, err)
	ix.Delete("person", 1)

	results, err := ix.Search(ctx, "person", deterministicVector(1), 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndex_Types_ListsEveryPartition(t *testing.T) {
	ix := NewIndex(testIndexConfig(), 0, newTestCache(t))
	ctx := context.Background()

	_, _, err := ix.Insert(ctx, "person", 1, deterministicVector(1), noopLoader)
	require.NoError(t, err)
	_, _, err = ix.Insert(ctx, "document", 1, deterministicVector(2), noopLoader)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"person", "document"}, ix.Types())
}

func TestIndex_Insert_PromotesToLazyAboveThreshold(t *testing.T) {
	backing := map[uint32][]float32{}
	loader := func(_ context.Context, id uint32) ([]float32, error) {
		return backing[id], nil
	}

	// 8 dims * 4 bytes = 32 bytes/vector; threshold of 64 bytes promotes
	// to lazy on the fourth insert, once three resident vectors (96 bytes)
	// exceed it.
	ix := NewIndex(testIndexConfig(), 64, newTestCache(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		v := deterministicVector(i)
		backing[uint32(i)] = v
		_, _, err := ix.Insert(ctx, "person", uint32(i), v, loader)
		require.NoError(t, err)
	}

	results, err := ix.Search(ctx, "person", deterministicVector(3), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(3), results[0].ID)
}
