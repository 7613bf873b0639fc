// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package api

import (
	"errors"
	"net/http"
	"strings"

	"codeberg.org/gai-org/gai"
	"github.com/MadsRC/llmledger"
	"github.com/MadsRC/llmledger/internal/api/auth"
	"github.com/go-chi/chi/v5"
)

const (
	anonymousActor    = "anonymous"
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

func actorFrom(r *http.Request) string {
	if p := auth.PrincipalFromContext(r.Context()); p != nil {
		return p.Name
	}
	return anonymousActor
}

type syncUserRequest struct {
	Email     string `json:"email" validate:"omitempty,email"`
	Name      string `json:"name" validate:"max=256"`
	AvatarURL string `json:"avatarUrl" validate:"omitempty,url"`
}

// handleSyncUser creates or refreshes the profile of a user known to the
// identity provider. Usage can only be recorded for synced users.
func (s *Server) handleSyncUser(w http.ResponseWriter, r *http.Request) {
	if s.options.UserRepository == nil {
		s.notConfigured(w, "user sync")
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		s.writeError(w, r, llmledger.NewValidationError("userId", "required"))
		return
	}

	var req syncUserRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validateRequest(&req); err != nil {
		s.writeError(w, r, err)
		return
	}

	user := &llmledger.User{
		ID:        userID,
		Email:     req.Email,
		Name:      req.Name,
		AvatarURL: req.AvatarURL,
		CreatedAt: s.options.Now().UTC(),
	}
	if err := s.options.UserRepository.Create(r.Context(), user); err != nil {
		s.writeError(w, r, &llmledger.StoreError{Op: "sync user", Err: err})
		return
	}
	// the repository keeps the original creation time of known users
	stored, err := s.options.UserRepository.Get(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, &llmledger.StoreError{Op: "get user", Err: err})
		return
	}
	s.writeJSON(w, http.StatusOK, stored)
}

type rebuildRequest struct {
	Period    string `json:"period" validate:"required,oneof=daily weekly monthly"`
	PeriodKey string `json:"periodKey" validate:"required"`
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validateRequest(&req); err != nil {
		s.writeError(w, r, err)
		return
	}

	stats, err := s.options.Ledger.RebuildAggregates(r.Context(), llmledger.Period(req.Period), req.PeriodKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.auditor.RecordRebuild(r.Context(), actorFrom(r), stats.Period, stats.PeriodKey, stats.RecordsReplayed, stats.AggregatesSaved)
	s.writeJSON(w, http.StatusOK, stats)
}

type putProviderKeyRequest struct {
	APIKey string `json:"apiKey" validate:"required,max=1024"`
}

func (s *Server) handlePutProviderKey(w http.ResponseWriter, r *http.Request) {
	if s.options.ProviderKeys == nil {
		s.notConfigured(w, "provider key storage")
		return
	}
	var req putProviderKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validateRequest(&req); err != nil {
		s.writeError(w, r, err)
		return
	}

	key, err := s.options.ProviderKeys.Put(r.Context(), actorFrom(r), chi.URLParam(r, "userID"), chi.URLParam(r, "provider"), req.APIKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, key)
}

func (s *Server) handleListProviderKeys(w http.ResponseWriter, r *http.Request) {
	if s.options.ProviderKeys == nil {
		s.notConfigured(w, "provider key storage")
		return
	}
	keys, err := s.options.ProviderKeys.List(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, keys)
}

func (s *Server) handleDeleteProviderKey(w http.ResponseWriter, r *http.Request) {
	if s.options.ProviderKeys == nil {
		s.notConfigured(w, "provider key storage")
		return
	}
	if err := s.options.ProviderKeys.Delete(r.Context(), actorFrom(r), chi.URLParam(r, "userID"), chi.URLParam(r, "provider")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.options.AuditRepository == nil {
		s.notConfigured(w, "audit log")
		return
	}
	limit, err := parseLimit(r, defaultAuditLimit, maxAuditLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.options.AuditRepository.ListAuditEntries(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, &llmledger.StoreError{Op: "list audit entries", Err: err})
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if s.options.CatalogRepository == nil {
		s.notConfigured(w, "model catalog")
		return
	}
	models, err := s.options.CatalogRepository.ListModels(r.Context())
	if err != nil {
		s.writeError(w, r, &llmledger.StoreError{Op: "list models", Err: err})
		return
	}
	s.writeJSON(w, http.StatusOK, models)
}

type upsertModelRequest struct {
	Name             string  `json:"name" validate:"max=256"`
	Provider         string  `json:"provider" validate:"required,max=64"`
	InputTokenPrice  float64 `json:"inputTokenPrice" validate:"gte=0"`
	OutputTokenPrice float64 `json:"outputTokenPrice" validate:"gte=0"`
	Enabled          *bool   `json:"enabled"`
}

// handleUpsertModel stores catalog metadata for a model. Slugs contain
// slashes ("openai/gpt-4o"), so the slug is the rest of the path.
func (s *Server) handleUpsertModel(w http.ResponseWriter, r *http.Request) {
	if s.options.CatalogRepository == nil {
		s.notConfigured(w, "model catalog")
		return
	}
	slug := strings.Trim(chi.URLParam(r, "*"), "/ ")
	if slug == "" {
		s.writeError(w, r, llmledger.NewValidationError("slug", "required"))
		return
	}

	var req upsertModelRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validateRequest(&req); err != nil {
		s.writeError(w, r, err)
		return
	}

	model := &llmledger.CatalogModel{
		Slug: slug,
		Model: gai.Model{
			ID:       slug,
			Name:     req.Name,
			Provider: req.Provider,
			Pricing: gai.ModelPricing{
				InputTokenPrice:  req.InputTokenPrice,
				OutputTokenPrice: req.OutputTokenPrice,
			},
		},
		Enabled: req.Enabled == nil || *req.Enabled,
	}
	if err := s.options.CatalogRepository.UpsertModel(r.Context(), model); err != nil {
		if errors.Is(err, llmledger.ErrValidation) {
			s.writeError(w, r, err)
			return
		}
		s.writeError(w, r, &llmledger.StoreError{Op: "upsert model", Err: err})
		return
	}
	s.writeJSON(w, http.StatusOK, model)
}
