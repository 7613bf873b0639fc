// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package llmledger

import (
	"context"
	"time"
)

// ProviderKey is a user-supplied provider API key, stored encrypted
type ProviderKey struct {
	UserID     string    `json:"userId"`
	Provider   string    `json:"provider"`
	Ciphertext string    `json:"-"`
	Hint       string    `json:"hint"` // last characters of the plaintext key
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ProviderKeyRepository defines persistence operations for BYOK provider keys
type ProviderKeyRepository interface {
	// PutProviderKey creates or replaces the user's key for a provider
	PutProviderKey(ctx context.Context, key *ProviderKey) error
	GetProviderKey(ctx context.Context, userID, provider string) (*ProviderKey, error)
	ListProviderKeys(ctx context.Context, userID string) ([]*ProviderKey, error)
	DeleteProviderKey(ctx context.Context, userID, provider string) error
}
