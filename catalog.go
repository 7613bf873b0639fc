// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package llmledger

import (
	"context"

	"codeberg.org/gai-org/gai"
)

// CatalogModel is a model known to the catalog, addressed by its upstream slug
type CatalogModel struct {
	Slug    string    `json:"slug"`
	Model   gai.Model `json:"model"`
	Enabled bool      `json:"enabled"`
}

// ModelCatalog looks up model metadata synced from the upstream marketplace
type ModelCatalog interface {
	GetModel(ctx context.Context, slug string) (*CatalogModel, error)
}

// ModelCatalogRepository defines persistence operations for the local model catalog
type ModelCatalogRepository interface {
	ModelCatalog
	UpsertModel(ctx context.Context, model *CatalogModel) error
	ListModels(ctx context.Context) ([]*CatalogModel, error)
}
