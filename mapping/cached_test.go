package mapping

import (
	"context"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/metagraph/pkg/cache"
)

// countingStorage wraps fakeStorage to count reads hitting the database
type countingStorage struct {
	*fakeStorage
	findByIDCalls    int
	findByShapeCalls int
}

func (c *countingStorage) FindByID(ctx context.Context, id string) (*TypeMapping, error) {
	c.findByIDCalls++
	return c.fakeStorage.FindByID(ctx, id)
}

func (c *countingStorage) FindByShape(ctx context.Context, dataSourceID, shapeHash string) (*TypeMapping, error) {
	c.findByShapeCalls++
	for _, m := range c.mappings {
		if m.DataSourceID == dataSourceID && m.ShapeHash == shapeHash {
			return m, nil
		}
	}
	return c.fakeStorage.FindByShape(ctx, dataSourceID, shapeHash)
}

func cachedFixture() (*countingStorage, *CachedStorage) {
	inner := &countingStorage{fakeStorage: newFakeStorage()}
	inner.mappings["map-1"] = &TypeMapping{
		ID:           "map-1",
		ContainerID:  "c-1",
		DataSourceID: "ds-1",
		ShapeHash:    "hash-1",
		FullyLoaded:  true,
	}
	return inner, NewCachedStorage(inner, 16, slog.Default())
}

func TestCachedStorageServesRepeatReadsFromCache(t *testing.T) {
	inner, cached := cachedFixture()

	first, err := cached.FindByID(context.Background(), "map-1")
	require.NoError(t, err)
	second, err := cached.FindByID(context.Background(), "map-1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, inner.findByIDCalls)
}

func TestCachedStorageSharesEntryAcrossKeys(t *testing.T) {
	inner, cached := cachedFixture()

	_, err := cached.FindByID(context.Background(), "map-1")
	require.NoError(t, err)

	// A shape lookup for the same mapping is a cache hit
	_, err = cached.FindByShape(context.Background(), "ds-1", "hash-1")
	require.NoError(t, err)
	assert.Zero(t, inner.findByShapeCalls)
}

func TestCachedStorageSkipsPartiallyLoaded(t *testing.T) {
	inner, cached := cachedFixture()
	inner.mappings["map-1"].FullyLoaded = false

	_, err := cached.FindByID(context.Background(), "map-1")
	require.NoError(t, err)
	_, err = cached.FindByID(context.Background(), "map-1")
	require.NoError(t, err)

	assert.Equal(t, 2, inner.findByIDCalls,
		"partially loaded mappings are never cached")
}

func TestCachedStorageInvalidate(t *testing.T) {
	inner, cached := cachedFixture()

	m, err := cached.FindByID(context.Background(), "map-1")
	require.NoError(t, err)

	// Any read after an invalidation repopulates both keys, so each key's
	// drop is asserted right after its own invalidation
	cached.Invalidate(m)
	_, err = cached.FindByShape(context.Background(), "ds-1", "hash-1")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.findByShapeCalls, "shape key was invalidated")

	cached.Invalidate(m)
	_, err = cached.FindByID(context.Background(), "map-1")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.findByIDCalls, "id key was invalidated")
}

func TestCachedStorageDeleteDropsBothKeys(t *testing.T) {
	inner, cached := cachedFixture()

	_, err := cached.FindByID(context.Background(), "map-1")
	require.NoError(t, err)

	require.NoError(t, cached.Delete(context.Background(), "map-1"))

	_, err = cached.FindByShape(context.Background(), "ds-1", "hash-1")
	assert.Error(t, err, "deleted mapping is gone from cache and storage")
	assert.Equal(t, 1, inner.findByShapeCalls)
}

func TestNewCachedStorageSurvivesMetricsCollision(t *testing.T) {
	reg := prometheus.NewRegistry()
	inner := &countingStorage{fakeStorage: newFakeStorage()}
	inner.mappings["map-1"] = &TypeMapping{
		ID:           "map-1",
		ContainerID:  "c-1",
		DataSourceID: "ds-1",
		ShapeHash:    "hash-1",
		FullyLoaded:  true,
	}

	// Second registration under the same prefix collides; the cache must
	// degrade to an unmetered one, not fail construction
	first := NewCachedStorage(inner, 16, slog.Default(), cache.WithMetrics(reg, "metagraph_mapping_cache"))
	second := NewCachedStorage(inner, 16, slog.Default(), cache.WithMetrics(reg, "metagraph_mapping_cache"))
	require.NotNil(t, first)
	require.NotNil(t, second)

	_, err := second.FindByID(context.Background(), "map-1")
	require.NoError(t, err)
	_, err = second.FindByID(context.Background(), "map-1")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.findByIDCalls, "degraded cache still caches")
}

func TestCachedStorageMissPassesThroughError(t *testing.T) {
	inner, cached := cachedFixture()

	_, err := cached.FindByID(context.Background(), "missing")
	assert.Error(t, err)
	assert.Equal(t, 1, inner.findByIDCalls)
}
