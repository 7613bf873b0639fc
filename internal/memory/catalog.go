// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"

	"github.com/MadsRC/llmledger"
)

func (s *Store) GetModel(_ context.Context, slug string) (*llmledger.CatalogModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	model, ok := s.models[slug]
	if !ok {
		return nil, &llmledger.NotFoundError{Resource: "model", ID: slug}
	}
	return cloneModel(model), nil
}

func (s *Store) UpsertModel(_ context.Context, model *llmledger.CatalogModel) error {
	if model == nil || model.Slug == "" {
		return llmledger.NewValidationError("slug", "required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.models[model.Slug] = cloneModel(model)
	return nil
}

// ListModels returns the catalog ordered by slug
func (s *Store) ListModels(_ context.Context) ([]*llmledger.CatalogModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*llmledger.CatalogModel, 0, len(s.models))
	for _, model := range s.models {
		out = append(out, cloneModel(model))
	}
	slices.SortFunc(out, func(a, b *llmledger.CatalogModel) int { return cmp.Compare(a.Slug, b.Slug) })
	return out, nil
}

func cloneModel(m *llmledger.CatalogModel) *llmledger.CatalogModel {
	out := *m
	out.Model.Metadata = maps.Clone(m.Model.Metadata)
	return &out
}
