// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"context"
	"errors"

	"github.com/MadsRC/llmledger"
	"github.com/jackc/pgx/v5"
)

var _ llmledger.ProviderKeyRepository = (*ProviderKeyRepository)(nil)

// PutProviderKey creates or replaces the user's key for a provider
func (r *ProviderKeyRepository) PutProviderKey(ctx context.Context, key *llmledger.ProviderKey) error {
	query := `
		INSERT INTO provider_keys (user_id, provider, ciphertext, hint, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			ciphertext = EXCLUDED.ciphertext,
			hint = EXCLUDED.hint,
			updated_at = EXCLUDED.updated_at`

	_, err := r.options.Db.Exec(ctx, query,
		key.UserID,
		key.Provider,
		key.Ciphertext,
		key.Hint,
		key.CreatedAt,
		key.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return &llmledger.NotFoundError{Resource: "user", ID: key.UserID}
		}
		r.options.Logger.Error("Failed to put provider key", "error", err, "userID", key.UserID, "provider", key.Provider)
		return err
	}
	return nil
}

// GetProviderKey retrieves the user's key for a provider
func (r *ProviderKeyRepository) GetProviderKey(ctx context.Context, userID, provider string) (*llmledger.ProviderKey, error) {
	query := `
		SELECT user_id, provider, ciphertext, hint, created_at, updated_at
		FROM provider_keys
		WHERE user_id = $1 AND provider = $2`

	var key llmledger.ProviderKey
	err := r.options.Db.QueryRow(ctx, query, userID, provider).Scan(
		&key.UserID,
		&key.Provider,
		&key.Ciphertext,
		&key.Hint,
		&key.CreatedAt,
		&key.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &llmledger.NotFoundError{Resource: "provider key", ID: userID + "/" + provider}
	}
	if err != nil {
		r.options.Logger.Error("Failed to get provider key", "error", err, "userID", userID, "provider", provider)
		return nil, err
	}
	return &key, nil
}

// ListProviderKeys retrieves the user's keys ordered by provider
func (r *ProviderKeyRepository) ListProviderKeys(ctx context.Context, userID string) ([]*llmledger.ProviderKey, error) {
	query := `
		SELECT user_id, provider, ciphertext, hint, created_at, updated_at
		FROM provider_keys
		WHERE user_id = $1
		ORDER BY provider`

	rows, err := r.options.Db.Query(ctx, query, userID)
	if err != nil {
		r.options.Logger.Error("Failed to list provider keys", "error", err, "userID", userID)
		return nil, err
	}
	defer rows.Close()

	keys := make([]*llmledger.ProviderKey, 0)
	for rows.Next() {
		var key llmledger.ProviderKey
		if err := rows.Scan(&key.UserID, &key.Provider, &key.Ciphertext, &key.Hint, &key.CreatedAt, &key.UpdatedAt); err != nil {
			r.options.Logger.Error("Failed to scan provider key row", "error", err)
			return nil, err
		}
		keys = append(keys, &key)
	}

	if err := rows.Err(); err != nil {
		r.options.Logger.Error("Error iterating provider key rows", "error", err)
		return nil, err
	}
	return keys, nil
}

// DeleteProviderKey removes the user's key for a provider
func (r *ProviderKeyRepository) DeleteProviderKey(ctx context.Context, userID, provider string) error {
	tag, err := r.options.Db.Exec(ctx, `DELETE FROM provider_keys WHERE user_id = $1 AND provider = $2`, userID, provider)
	if err != nil {
		r.options.Logger.Error("Failed to delete provider key", "error", err, "userID", userID, "provider", provider)
		return err
	}
	if tag.RowsAffected() == 0 {
		return &llmledger.NotFoundError{Resource: "provider key", ID: userID + "/" + provider}
	}
	return nil
}
