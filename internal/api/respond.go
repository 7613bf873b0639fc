// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/MadsRC/llmledger"
	"github.com/goccy/go-json"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

// errorResponse is the body of every non-2xx response
type errorResponse struct {
	Error    string `json:"error"`
	Field    string `json:"field,omitempty"`
	RecordID string `json:"recordId,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.options.Logger.Error("Failed to write response", "error", err)
	}
}

// writeError maps ledger errors onto HTTP statuses. Store failures are logged
// and reported without their cause.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *llmledger.ValidationError
		store      *llmledger.StoreError
	)

	switch {
	case errors.As(err, &validation):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: validation.Error(), Field: validation.Field})
	case errors.Is(err, llmledger.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, llmledger.ErrDuplicateEntry):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, llmledger.ErrUnauthorized):
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
	case errors.As(err, &store):
		s.options.Logger.Error("Request failed", "error", err, "path", r.URL.Path, "method", r.Method)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: store.Op + " failed", RecordID: store.RecordID})
	default:
		s.options.Logger.Error("Request failed", "error", err, "path", r.URL.Path, "method", r.Method)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (s *Server) unauthorized(w http.ResponseWriter, _ *http.Request, _ error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="llmledger"`)
	s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
}

func (s *Server) rateLimited(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
}

func (s *Server) notConfigured(w http.ResponseWriter, feature string) {
	s.writeJSON(w, http.StatusNotImplemented, errorResponse{Error: feature + " is not configured"})
}

// decodeJSON reads a single JSON document from the request body into v.
func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return llmledger.NewValidationError("body", fmt.Sprintf("failed to read: %v", err))
	}
	if len(body) > maxBodyBytes {
		return llmledger.NewValidationError("body", "too large")
	}
	if len(body) == 0 {
		return llmledger.NewValidationError("body", "required")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return llmledger.NewValidationError("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}
