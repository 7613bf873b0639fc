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
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuditRepository(t *testing.T, mock pgxmock.PgxPoolIface) *AuditRepository {
	t.Helper()
	repo, err := NewAuditRepository(WithAuditRepositoryDb(mock), WithAuditRepositoryLogger(discardLogger))
	require.NoError(t, err)
	return repo
}

func TestAuditRepository_Create(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	entry := llmledger.NewAuditEntry("0195539e-7a4c-7000-8000-0000000000aa", "admin", llmledger.ProviderKeyDeleted{
		UserID:   "user-1",
		Provider: "openrouter",
	}, at)
	details, err := llmledger.EncodeAuditDetails(entry.Details)
	require.NoError(t, err)

	t.Run("success", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`INSERT INTO audit_log`).
			WithArgs(entry.ID, "admin", "provider_key.deleted", details, at).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, newAuditRepository(t, mock).CreateAuditEntry(context.Background(), entry))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate id", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`INSERT INTO audit_log`).
			WithArgs(entry.ID, "admin", "provider_key.deleted", details, at).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

		err := newAuditRepository(t, mock).CreateAuditEntry(context.Background(), entry)
		assert.ErrorIs(t, err, llmledger.ErrDuplicateEntry)
	})

	t.Run("missing details", func(t *testing.T) {
		mock := newMockPool(t)
		err := newAuditRepository(t, mock).CreateAuditEntry(context.Background(), &llmledger.AuditEntry{ID: "x"})
		assert.ErrorIs(t, err, llmledger.ErrValidation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuditRepository_List(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	mock := newMockPool(t)
	mock.ExpectQuery(`FROM audit_log ORDER BY created_at DESC, id DESC LIMIT \$1`).
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "actor_id", "action", "details", "created_at"}).
			AddRow("b", "scheduler", "aggregates.rebuilt", []byte(`{"period":"daily","periodKey":"2025-03-01","recordsReplayed":4,"aggregatesSaved":3}`), at).
			AddRow("a", "admin", "provider_key.stored", []byte(`{"userId":"user-1","provider":"openrouter","hint":"9f2c","replaced":false}`), at.Add(-time.Hour)))

	entries, err := newAuditRepository(t, mock).ListAuditEntries(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	rebuilt, ok := entries[0].Details.(llmledger.AggregatesRebuilt)
	require.True(t, ok)
	assert.Equal(t, 4, rebuilt.RecordsReplayed)
	assert.Equal(t, llmledger.PeriodDaily, rebuilt.Period)

	stored, ok := entries[1].Details.(llmledger.ProviderKeyStored)
	require.True(t, ok)
	assert.Equal(t, "9f2c", stored.Hint)
	assert.NoError(t, mock.ExpectationsWereMet())
}
