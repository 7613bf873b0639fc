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

var _ llmledger.UserRepository = (*UserRepository)(nil)

// Create adds a user, or refreshes the profile of an existing one
func (r *UserRepository) Create(ctx context.Context, user *llmledger.User) error {
	query := `
		INSERT INTO users (id, email, name, avatar_url, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			avatar_url = EXCLUDED.avatar_url`

	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.options.Now().UTC()
	}

	_, err := r.options.Db.Exec(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.AvatarURL,
		createdAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return llmledger.ErrDuplicateEntry
		}
		r.options.Logger.Error("Failed to create user", "error", err)
		return err
	}
	return nil
}

// Get retrieves a user by ID
func (r *UserRepository) Get(ctx context.Context, id string) (*llmledger.User, error) {
	query := `
		SELECT id, email, name, avatar_url, created_at
		FROM users
		WHERE id = $1`

	row := r.options.Db.QueryRow(ctx, query, id)

	var user llmledger.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.AvatarURL,
		&user.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &llmledger.NotFoundError{Resource: "user", ID: id}
	}
	if err != nil {
		r.options.Logger.Error("Failed to get user", "error", err, "id", id)
		return nil, err
	}
	return &user, nil
}

// GetByIDs retrieves the users among ids that exist
func (r *UserRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*llmledger.User, error) {
	users := make(map[string]*llmledger.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	query := `
		SELECT id, email, name, avatar_url, created_at
		FROM users
		WHERE id = ANY($1)`

	rows, err := r.options.Db.Query(ctx, query, ids)
	if err != nil {
		r.options.Logger.Error("Failed to get users", "error", err)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var user llmledger.User
		if err := rows.Scan(&user.ID, &user.Email, &user.Name, &user.AvatarURL, &user.CreatedAt); err != nil {
			r.options.Logger.Error("Failed to scan user row", "error", err)
			return nil, err
		}
		users[user.ID] = &user
	}

	if err := rows.Err(); err != nil {
		r.options.Logger.Error("Error iterating user rows", "error", err)
		return nil, err
	}
	return users, nil
}
