// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"context"
	"time"

	"github.com/MadsRC/llmledger"
	"github.com/MadsRC/llmledger/internal/cache"
)

// CachedModelCatalog wraps a ModelCatalogRepository with caching. Lookups by
// slug happen once per recorded completion.
type CachedModelCatalog struct {
	underlying llmledger.ModelCatalogRepository
	models     *cache.Cache[string, *llmledger.CatalogModel]
}

var _ llmledger.ModelCatalogRepository = (*CachedModelCatalog)(nil)

// NewCachedModelCatalog creates a new cached model catalog
func NewCachedModelCatalog(underlying llmledger.ModelCatalogRepository, cacheTTL time.Duration) *CachedModelCatalog {
	return &CachedModelCatalog{
		underlying: underlying,
		models:     cache.New[string, *llmledger.CatalogModel](cacheTTL),
	}
}

// GetModel retrieves a model by slug with caching
func (c *CachedModelCatalog) GetModel(ctx context.Context, slug string) (*llmledger.CatalogModel, error) {
	return c.models.GetOrLoad(ctx, slug, func(ctx context.Context) (*llmledger.CatalogModel, error) {
		return c.underlying.GetModel(ctx, slug)
	})
}

// UpsertModel writes through and invalidates the cached entry
func (c *CachedModelCatalog) UpsertModel(ctx context.Context, model *llmledger.CatalogModel) error {
	defer c.models.Delete(model.Slug)
	return c.underlying.UpsertModel(ctx, model)
}

// ListModels is not cached
func (c *CachedModelCatalog) ListModels(ctx context.Context) ([]*llmledger.CatalogModel, error) {
	return c.underlying.ListModels(ctx)
}

// Close stops the cache's background sweeper
func (c *CachedModelCatalog) Close() {
	c.models.Close()
}
