// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !integration && !acceptance

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/MadsRC/llmledger"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProviderKeyRepository(t *testing.T, mock pgxmock.PgxPoolIface) *ProviderKeyRepository {
	t.Helper()
	repo, err := NewProviderKeyRepository(WithProviderKeyRepositoryDb(mock), WithProviderKeyRepositoryLogger(discardLogger))
	require.NoError(t, err)
	return repo
}

var providerKeyRowColumns = []string{"user_id", "provider", "ciphertext", "hint", "created_at", "updated_at"}

func TestProviderKeyRepository_Put(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	key := &llmledger.ProviderKey{
		UserID:     "user-1",
		Provider:   "openrouter",
		Ciphertext: "c2VhbGVk",
		Hint:       "9f2c",
		CreatedAt:  at,
		UpdatedAt:  at,
	}

	t.Run("success", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`INSERT INTO provider_keys .* ON CONFLICT \(user_id, provider\) DO UPDATE SET`).
			WithArgs("user-1", "openrouter", "c2VhbGVk", "9f2c", at, at).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, newProviderKeyRepository(t, mock).PutProviderKey(context.Background(), key))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`INSERT INTO provider_keys`).
			WithArgs("user-1", "openrouter", "c2VhbGVk", "9f2c", at, at).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation})

		err := newProviderKeyRepository(t, mock).PutProviderKey(context.Background(), key)
		assert.ErrorIs(t, err, llmledger.ErrNotFound)
	})
}

func TestProviderKeyRepository_Get(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`FROM provider_keys WHERE user_id = \$1 AND provider = \$2`).
			WithArgs("user-1", "openrouter").
			WillReturnRows(pgxmock.NewRows(providerKeyRowColumns).
				AddRow("user-1", "openrouter", "c2VhbGVk", "9f2c", at, at))

		key, err := newProviderKeyRepository(t, mock).GetProviderKey(context.Background(), "user-1", "openrouter")
		require.NoError(t, err)
		assert.Equal(t, "c2VhbGVk", key.Ciphertext)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`FROM provider_keys`).
			WithArgs("user-1", "openai").
			WillReturnError(pgx.ErrNoRows)

		_, err := newProviderKeyRepository(t, mock).GetProviderKey(context.Background(), "user-1", "openai")
		assert.ErrorIs(t, err, llmledger.ErrNotFound)
	})
}

func TestProviderKeyRepository_List(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	mock := newMockPool(t)
	mock.ExpectQuery(`FROM provider_keys WHERE user_id = \$1 ORDER BY provider`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows(providerKeyRowColumns).
			AddRow("user-1", "anthropic", "YQ==", "aaaa", at, at).
			AddRow("user-1", "openrouter", "Yg==", "bbbb", at, at))

	keys, err := newProviderKeyRepository(t, mock).ListProviderKeys(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "anthropic", keys[0].Provider)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProviderKeyRepository_Delete(t *testing.T) {
	t.Run("deleted", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`DELETE FROM provider_keys WHERE user_id = \$1 AND provider = \$2`).
			WithArgs("user-1", "openrouter").
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		require.NoError(t, newProviderKeyRepository(t, mock).DeleteProviderKey(context.Background(), "user-1", "openrouter"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`DELETE FROM provider_keys`).
			WithArgs("user-1", "openrouter").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		err := newProviderKeyRepository(t, mock).DeleteProviderKey(context.Background(), "user-1", "openrouter")
		assert.ErrorIs(t, err, llmledger.ErrNotFound)
	})
}
