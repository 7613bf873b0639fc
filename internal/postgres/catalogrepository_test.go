// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !integration && !acceptance

package postgres

import (
	"context"
	"testing"

	"codeberg.org/gai-org/gai"
	"github.com/MadsRC/llmledger"
	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCatalogRepository(t *testing.T, mock pgxmock.PgxPoolIface) *CatalogRepository {
	t.Helper()
	repo, err := NewCatalogRepository(WithCatalogRepositoryDb(mock), WithCatalogRepositoryLogger(discardLogger))
	require.NoError(t, err)
	return repo
}

var catalogRowColumns = []string{"slug", "name", "provider", "pricing", "capabilities", "metadata", "enabled"}

func testCatalogModel() *llmledger.CatalogModel {
	return &llmledger.CatalogModel{
		Slug: "openai/gpt-4o",
		Model: gai.Model{
			ID:       "openai/gpt-4o",
			Name:     "GPT-4o",
			Provider: "openai",
			Pricing: gai.ModelPricing{
				InputTokenPrice:  0.0000025,
				OutputTokenPrice: 0.00001,
			},
		},
		Enabled: true,
	}
}

func catalogRow(t *testing.T, m *llmledger.CatalogModel) []any {
	t.Helper()
	pricing, err := json.Marshal(m.Model.Pricing)
	require.NoError(t, err)
	capabilities, err := json.Marshal(m.Model.Capabilities)
	require.NoError(t, err)
	metadata, err := json.Marshal(m.Model.Metadata)
	require.NoError(t, err)
	return []any{m.Slug, m.Model.Name, m.Model.Provider, pricing, capabilities, metadata, m.Enabled}
}

func TestCatalogRepository_GetModel(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		mock := newMockPool(t)
		want := testCatalogModel()
		mock.ExpectQuery(`FROM model_catalog WHERE slug = \$1`).
			WithArgs("openai/gpt-4o").
			WillReturnRows(pgxmock.NewRows(catalogRowColumns).AddRow(catalogRow(t, want)...))

		got, err := newCatalogRepository(t, mock).GetModel(context.Background(), "openai/gpt-4o")
		require.NoError(t, err)
		assert.Equal(t, "openai/gpt-4o", got.Model.ID)
		assert.Equal(t, want.Model.Pricing, got.Model.Pricing)
		assert.True(t, got.Enabled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`FROM model_catalog`).
			WithArgs("nope/model").
			WillReturnError(pgx.ErrNoRows)

		_, err := newCatalogRepository(t, mock).GetModel(context.Background(), "nope/model")
		assert.ErrorIs(t, err, llmledger.ErrNotFound)
	})

	t.Run("corrupt pricing", func(t *testing.T) {
		mock := newMockPool(t)
		row := catalogRow(t, testCatalogModel())
		row[3] = []byte(`{not json`)
		mock.ExpectQuery(`FROM model_catalog`).
			WithArgs("openai/gpt-4o").
			WillReturnRows(pgxmock.NewRows(catalogRowColumns).AddRow(row...))

		_, err := newCatalogRepository(t, mock).GetModel(context.Background(), "openai/gpt-4o")
		assert.ErrorContains(t, err, "failed to decode pricing")
	})
}

func TestCatalogRepository_UpsertModel(t *testing.T) {
	mock := newMockPool(t)
	model := testCatalogModel()
	row := catalogRow(t, model)
	mock.ExpectExec(`INSERT INTO model_catalog .* ON CONFLICT \(slug\) DO UPDATE SET`).
		WithArgs(row...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, newCatalogRepository(t, mock).UpsertModel(context.Background(), model))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepository_ListModels(t *testing.T) {
	mock := newMockPool(t)
	first := testCatalogModel()
	second := testCatalogModel()
	second.Slug = "anthropic/claude-sonnet-4"
	second.Model.Name = "Claude Sonnet 4"
	second.Enabled = false

	mock.ExpectQuery(`FROM model_catalog ORDER BY slug`).
		WillReturnRows(pgxmock.NewRows(catalogRowColumns).
			AddRow(catalogRow(t, second)...).
			AddRow(catalogRow(t, first)...))

	models, err := newCatalogRepository(t, mock).ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "anthropic/claude-sonnet-4", models[0].Slug)
	assert.False(t, models[0].Enabled)
	assert.NoError(t, mock.ExpectationsWereMet())
}
