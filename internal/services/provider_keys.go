// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/MadsRC/llmledger"
	"github.com/MadsRC/llmledger/internal/keyvault"
)

var providerPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ProviderKeyService manages the provider API keys users bring themselves.
// Keys are sealed by the vault before they reach the repository.
type ProviderKeyService struct {
	logger *slog.Logger
	keys   llmledger.ProviderKeyRepository
	vault  *keyvault.Vault
	audit  *Auditor
	now    func() time.Time
}

// ProviderKeyServiceOption configures ProviderKeyService behavior
type ProviderKeyServiceOption func(*ProviderKeyService)

// WithProviderKeyServiceLogger sets the logger for the service
func WithProviderKeyServiceLogger(logger *slog.Logger) ProviderKeyServiceOption {
	return func(s *ProviderKeyService) {
		s.logger = logger
	}
}

// WithProviderKeyServiceAudit records key changes in the audit trail
func WithProviderKeyServiceAudit(audit llmledger.AuditRepository) ProviderKeyServiceOption {
	return func(s *ProviderKeyService) {
		s.audit = NewAuditor(audit, nil, nil)
	}
}

// WithProviderKeyServiceClock sets the source of the current time
func WithProviderKeyServiceClock(now func() time.Time) ProviderKeyServiceOption {
	return func(s *ProviderKeyService) {
		s.now = now
	}
}

// NewProviderKeyService creates a new ProviderKeyService instance
func NewProviderKeyService(keys llmledger.ProviderKeyRepository, vault *keyvault.Vault, options ...ProviderKeyServiceOption) *ProviderKeyService {
	s := &ProviderKeyService{
		logger: slog.Default(),
		keys:   keys,
		vault:  vault,
		now:    time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.audit != nil {
		s.audit.logger = s.logger
		s.audit.now = s.now
	}
	return s
}

func validateProvider(provider string) error {
	if !providerPattern.MatchString(provider) {
		return llmledger.NewValidationError("provider", fmt.Sprintf("invalid provider %q", provider))
	}
	return nil
}

// Put stores apiKey as userID's key for provider, replacing an existing one
func (s *ProviderKeyService) Put(ctx context.Context, actorID, userID, provider, apiKey string) (*llmledger.ProviderKey, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, llmledger.NewValidationError("userId", "required")
	}
	if err := validateProvider(provider); err != nil {
		return nil, err
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, llmledger.NewValidationError("apiKey", "required")
	}

	now := s.now().UTC()
	key := &llmledger.ProviderKey{
		UserID:    userID,
		Provider:  provider,
		Hint:      keyvault.Hint(apiKey),
		CreatedAt: now,
		UpdatedAt: now,
	}

	existing, err := s.keys.GetProviderKey(ctx, userID, provider)
	switch {
	case err == nil:
		key.CreatedAt = existing.CreatedAt
	case !errors.Is(err, llmledger.ErrNotFound):
		return nil, &llmledger.StoreError{Op: "get provider key", Err: err}
	}

	if key.Ciphertext, err = s.vault.Encrypt(userID, apiKey); err != nil {
		return nil, fmt.Errorf("failed to seal provider key: %w", err)
	}
	if err := s.keys.PutProviderKey(ctx, key); err != nil {
		if errors.Is(err, llmledger.ErrNotFound) {
			return nil, err
		}
		return nil, &llmledger.StoreError{Op: "put provider key", Err: err}
	}

	s.logger.Info("Provider key stored", "userID", userID, "provider", provider, "replaced", existing != nil)
	s.audit.Record(ctx, actorID, llmledger.ProviderKeyStored{
		UserID:   userID,
		Provider: provider,
		Hint:     key.Hint,
		Replaced: existing != nil,
	})
	return key, nil
}

// List returns the user's keys without their ciphertexts
func (s *ProviderKeyService) List(ctx context.Context, userID string) ([]*llmledger.ProviderKey, error) {
	keys, err := s.keys.ListProviderKeys(ctx, userID)
	if err != nil {
		return nil, &llmledger.StoreError{Op: "list provider keys", Err: err}
	}
	for _, key := range keys {
		key.Ciphertext = ""
	}
	return keys, nil
}

// Reveal decrypts the user's key for provider
func (s *ProviderKeyService) Reveal(ctx context.Context, userID, provider string) (string, error) {
	key, err := s.keys.GetProviderKey(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	plaintext, err := s.vault.Decrypt(userID, key.Ciphertext)
	if err != nil {
		s.logger.Error("Failed to open provider key", "error", err, "userID", userID, "provider", provider)
		return "", err
	}
	return plaintext, nil
}

// Delete removes the user's key for provider
func (s *ProviderKeyService) Delete(ctx context.Context, actorID, userID, provider string) error {
	if err := validateProvider(provider); err != nil {
		return err
	}
	if err := s.keys.DeleteProviderKey(ctx, userID, provider); err != nil {
		if errors.Is(err, llmledger.ErrNotFound) {
			return err
		}
		return &llmledger.StoreError{Op: "delete provider key", Err: err}
	}

	s.logger.Info("Provider key deleted", "userID", userID, "provider", provider)
	s.audit.Record(ctx, actorID, llmledger.ProviderKeyDeleted{UserID: userID, Provider: provider})
	return nil
}
