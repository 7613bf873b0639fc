// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package memory

import (
	"context"
	"time"

	"github.com/MadsRC/llmledger"
)

// Create stores a user or refreshes an existing user's profile. CreatedAt of
// an existing user is kept.
func (s *Store) Create(_ context.Context, user *llmledger.User) error {
	if user == nil || user.ID == "" {
		return llmledger.NewValidationError("id", "required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *user
	if existing, ok := s.users[user.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = &stored
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*llmledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, &llmledger.NotFoundError{Resource: "user", ID: id}
	}
	out := *user
	return &out, nil
}

func (s *Store) GetByIDs(_ context.Context, ids []string) (map[string]*llmledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*llmledger.User, len(ids))
	for _, id := range ids {
		if user, ok := s.users[id]; ok {
			u := *user
			out[id] = &u
		}
	}
	return out, nil
}
