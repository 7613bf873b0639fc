// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !integration && !acceptance

package services

import (
	"context"
	"testing"
	"time"

	"github.com/MadsRC/llmledger"
	"github.com/MadsRC/llmledger/internal/keyvault"
	"github.com/MadsRC/llmledger/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProviderKeyService(t *testing.T) (*ProviderKeyService, *memory.Store, *time.Time) {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.Create(context.Background(), &llmledger.User{ID: "user-1", Name: "Alice"}))

	masterKey, err := keyvault.GenerateMasterKey()
	require.NoError(t, err)
	vault, err := keyvault.New(masterKey)
	require.NoError(t, err)

	now := testNow
	svc := NewProviderKeyService(store, vault,
		WithProviderKeyServiceLogger(discardLogger),
		WithProviderKeyServiceAudit(store),
		WithProviderKeyServiceClock(func() time.Time { return now }),
	)
	return svc, store, &now
}

func TestProviderKeyService_PutRevealList(t *testing.T) {
	ctx := context.Background()
	svc, store, now := newProviderKeyService(t)

	key, err := svc.Put(ctx, "admin", "user-1", "openrouter", "sk-or-v1-0000aaaa1111")
	require.NoError(t, err)
	assert.Equal(t, "1111", key.Hint)
	assert.NotContains(t, key.Ciphertext, "sk-or")

	plain, err := svc.Reveal(ctx, "user-1", "openrouter")
	require.NoError(t, err)
	assert.Equal(t, "sk-or-v1-0000aaaa1111", plain)

	*now = now.Add(time.Hour)
	replaced, err := svc.Put(ctx, "admin", "user-1", "openrouter", "sk-or-v1-0000bbbb2222")
	require.NoError(t, err)
	assert.Equal(t, testNow, replaced.CreatedAt)
	assert.Equal(t, testNow.Add(time.Hour), replaced.UpdatedAt)

	keys, err := svc.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Empty(t, keys[0].Ciphertext)
	assert.Equal(t, "2222", keys[0].Hint)

	entries, err := store.ListAuditEntries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	latest, ok := entries[0].Details.(llmledger.ProviderKeyStored)
	require.True(t, ok)
	assert.True(t, latest.Replaced)
	first, ok := entries[1].Details.(llmledger.ProviderKeyStored)
	require.True(t, ok)
	assert.False(t, first.Replaced)
}

func TestProviderKeyService_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newProviderKeyService(t)

	tests := []struct {
		name     string
		userID   string
		provider string
		apiKey   string
	}{
		{"missing user", "", "openrouter", "sk-test-123456"},
		{"bad provider", "user-1", "Open Router", "sk-test-123456"},
		{"empty key", "user-1", "openrouter", "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Put(ctx, "admin", tt.userID, tt.provider, tt.apiKey)
			assert.ErrorIs(t, err, llmledger.ErrValidation)
		})
	}

	_, err := svc.Put(ctx, "admin", "ghost", "openrouter", "sk-test-123456")
	assert.ErrorIs(t, err, llmledger.ErrNotFound)
}

func TestProviderKeyService_Delete(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newProviderKeyService(t)

	_, err := svc.Put(ctx, "admin", "user-1", "anthropic", "sk-ant-api03-xyz789")
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "admin", "user-1", "anthropic"))

	_, err = svc.Reveal(ctx, "user-1", "anthropic")
	assert.ErrorIs(t, err, llmledger.ErrNotFound)

	err = svc.Delete(ctx, "admin", "user-1", "anthropic")
	assert.ErrorIs(t, err, llmledger.ErrNotFound)

	entries, err := store.ListAuditEntries(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, llmledger.AuditActionProviderKeyDeleted, entries[0].Action)
}
