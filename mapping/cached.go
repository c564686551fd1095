package mapping

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360/metagraph/pkg/cache"
)

// CachedStorage decorates a Storage with an LRU cache over mapping reads.
// Mappings are cached under both their id and their (data source, shape hash)
// pair since lookups arrive through both paths. The cache is best effort:
// invalidation failures are logged and never fail the write that caused them.
type CachedStorage struct {
	inner  Storage
	byID   cache.Cache[*TypeMapping]
	logger *slog.Logger
}

// NewCachedStorage wraps storage with a cache of the given size. A cache
// that fails to construct (metrics registration collision) degrades to an
// unmetered one; the cache is advisory and never blocks storage.
func NewCachedStorage(inner Storage, maxSize int, logger *slog.Logger, opts ...cache.Option) *CachedStorage {
	log := logger.With("component", "mapping-cache")
	byID, err := cache.NewLRU[*TypeMapping](maxSize, opts...)
	if err != nil {
		log.Warn("cache metrics unavailable", "error", err)
		byID, _ = cache.NewLRU[*TypeMapping](maxSize)
	}
	return &CachedStorage{
		inner:  inner,
		byID:   byID,
		logger: log,
	}
}

func shapeKey(dataSourceID, shapeHash string) string {
	return fmt.Sprintf("shape:%s:%s", dataSourceID, shapeHash)
}

func idKey(id string) string {
	return "id:" + id
}

// FindByID serves from cache when possible
func (c *CachedStorage) FindByID(ctx context.Context, id string) (*TypeMapping, error) {
	if m, ok := c.byID.Get(idKey(id)); ok {
		return m, nil
	}

	m, err := c.inner.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(m)
	return m, nil
}

// FindByShape serves from cache when possible
func (c *CachedStorage) FindByShape(ctx context.Context, dataSourceID, shapeHash string) (*TypeMapping, error) {
	if m, ok := c.byID.Get(shapeKey(dataSourceID, shapeHash)); ok {
		return m, nil
	}

	m, err := c.inner.FindByShape(ctx, dataSourceID, shapeHash)
	if err != nil {
		return nil, err
	}
	c.store(m)
	return m, nil
}

// store caches a mapping under both lookup keys. Partially loaded mappings
// are never cached; serving one from cache would silently drop its
// transformations from a later read.
func (c *CachedStorage) store(m *TypeMapping) {
	if m == nil || !m.FullyLoaded {
		return
	}
	if _, err := c.byID.Set(idKey(m.ID), m); err != nil {
		c.logger.Warn("cache store failed", "mapping_id", m.ID, "error", err)
		return
	}
	if _, err := c.byID.Set(shapeKey(m.DataSourceID, m.ShapeHash), m); err != nil {
		c.logger.Warn("cache store failed", "mapping_id", m.ID, "error", err)
	}
}

// Invalidate drops a mapping from the cache under both keys
func (c *CachedStorage) Invalidate(m *TypeMapping) {
	if m == nil {
		return
	}
	if _, err := c.byID.Delete(idKey(m.ID)); err != nil {
		c.logger.Warn("cache invalidation failed", "mapping_id", m.ID, "error", err)
	}
	if _, err := c.byID.Delete(shapeKey(m.DataSourceID, m.ShapeHash)); err != nil {
		c.logger.Warn("cache invalidation failed", "mapping_id", m.ID, "error", err)
	}
}

// Delete removes the mapping from storage and drops it from the cache
func (c *CachedStorage) Delete(ctx context.Context, id string) error {
	if m, ok := c.byID.Get(idKey(id)); ok {
		c.Invalidate(m)
	} else if _, err := c.byID.Delete(idKey(id)); err != nil {
		c.logger.Warn("cache invalidation failed", "mapping_id", id, "error", err)
	}
	return c.inner.Delete(ctx, id)
}

// Begin passes through to the underlying storage. Callers saving through the
// transaction are responsible for invalidating the mappings they touch; the
// Engine does this before committing.
func (c *CachedStorage) Begin(ctx context.Context) (Tx, error) {
	return c.inner.Begin(ctx)
}

// Close releases the cache
func (c *CachedStorage) Close() {
	if err := c.byID.Close(); err != nil {
		c.logger.Warn("cache close failed", "error", err)
	}
}

var _ Storage = (*CachedStorage)(nil)
