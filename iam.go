// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package llmledger

import (
	"context"
	"time"
)

// User is the ledger's view of an account managed by the identity provider
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Profile returns the display subset of the user
func (u *User) Profile() UserProfile {
	return UserProfile{
		Name:      u.Name,
		Email:     u.Email,
		AvatarURL: u.AvatarURL,
	}
}

// UserProfile is the minimal display information joined onto dashboards
type UserProfile struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// UserRepository defines persistence operations for Users
type UserRepository interface {
	// Create stores a new user, or refreshes the profile of an existing one
	Create(ctx context.Context, user *User) error
	Get(ctx context.Context, id string) (*User, error)
	// GetByIDs returns the users that exist among ids, keyed by ID
	GetByIDs(ctx context.Context, ids []string) (map[string]*User, error)
}
