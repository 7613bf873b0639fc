// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/MadsRC/llmledger"
	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
)

var _ llmledger.ModelCatalogRepository = (*CatalogRepository)(nil)

// GetModel retrieves a catalog entry by its upstream slug
func (r *CatalogRepository) GetModel(ctx context.Context, slug string) (*llmledger.CatalogModel, error) {
	query := `
		SELECT slug, name, provider, pricing, capabilities, metadata, enabled
		FROM model_catalog
		WHERE slug = $1`

	model, err := scanCatalogModel(r.options.Db.QueryRow(ctx, query, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &llmledger.NotFoundError{Resource: "model", ID: slug}
	}
	if err != nil {
		r.options.Logger.Error("Failed to get model", "error", err, "slug", slug)
		return nil, err
	}
	return model, nil
}

// UpsertModel creates or replaces a catalog entry
func (r *CatalogRepository) UpsertModel(ctx context.Context, model *llmledger.CatalogModel) error {
	pricingJSON, err := json.Marshal(model.Model.Pricing)
	if err != nil {
		return fmt.Errorf("failed to encode pricing: %w", err)
	}
	capabilitiesJSON, err := json.Marshal(model.Model.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to encode capabilities: %w", err)
	}
	metadataJSON, err := json.Marshal(model.Model.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		INSERT INTO model_catalog (slug, name, provider, pricing, capabilities, metadata, enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			provider = EXCLUDED.provider,
			pricing = EXCLUDED.pricing,
			capabilities = EXCLUDED.capabilities,
			metadata = EXCLUDED.metadata,
			enabled = EXCLUDED.enabled,
			updated_at = now()`

	_, err = r.options.Db.Exec(ctx, query,
		model.Slug,
		model.Model.Name,
		model.Model.Provider,
		pricingJSON,
		capabilitiesJSON,
		metadataJSON,
		model.Enabled,
	)
	if err != nil {
		r.options.Logger.Error("Failed to upsert model", "error", err, "slug", model.Slug)
		return err
	}
	return nil
}

// ListModels retrieves the whole catalog ordered by slug
func (r *CatalogRepository) ListModels(ctx context.Context) ([]*llmledger.CatalogModel, error) {
	query := `
		SELECT slug, name, provider, pricing, capabilities, metadata, enabled
		FROM model_catalog
		ORDER BY slug`

	rows, err := r.options.Db.Query(ctx, query)
	if err != nil {
		r.options.Logger.Error("Failed to list models", "error", err)
		return nil, err
	}
	defer rows.Close()

	models := make([]*llmledger.CatalogModel, 0)
	for rows.Next() {
		model, err := scanCatalogModel(rows)
		if err != nil {
			r.options.Logger.Error("Failed to scan model row", "error", err)
			return nil, err
		}
		models = append(models, model)
	}

	if err := rows.Err(); err != nil {
		r.options.Logger.Error("Error iterating model rows", "error", err)
		return nil, err
	}
	return models, nil
}

func scanCatalogModel(row rowScanner) (*llmledger.CatalogModel, error) {
	var model llmledger.CatalogModel
	var pricingJSON, capabilitiesJSON, metadataJSON []byte

	err := row.Scan(
		&model.Slug,
		&model.Model.Name,
		&model.Model.Provider,
		&pricingJSON,
		&capabilitiesJSON,
		&metadataJSON,
		&model.Enabled,
	)
	if err != nil {
		return nil, err
	}
	model.Model.ID = model.Slug

	if err := json.Unmarshal(pricingJSON, &model.Model.Pricing); err != nil {
		return nil, fmt.Errorf("failed to decode pricing of %s: %w", model.Slug, err)
	}
	if err := json.Unmarshal(capabilitiesJSON, &model.Model.Capabilities); err != nil {
		return nil, fmt.Errorf("failed to decode capabilities of %s: %w", model.Slug, err)
	}
	if err := json.Unmarshal(metadataJSON, &model.Model.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata of %s: %w", model.Slug, err)
	}
	return &model, nil
}
