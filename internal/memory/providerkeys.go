// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/MadsRC/llmledger"
)

// PutProviderKey creates or replaces a key. The owning user must exist.
func (s *Store) PutProviderKey(_ context.Context, key *llmledger.ProviderKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[key.UserID]; !ok {
		return &llmledger.NotFoundError{Resource: "user", ID: key.UserID}
	}
	id := providerKeyID{userID: key.UserID, provider: key.Provider}
	stored := *key
	if existing, ok := s.providerKeys[id]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	s.providerKeys[id] = &stored
	return nil
}

func (s *Store) GetProviderKey(_ context.Context, userID, provider string) (*llmledger.ProviderKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.providerKeys[providerKeyID{userID: userID, provider: provider}]
	if !ok {
		return nil, &llmledger.NotFoundError{Resource: "provider key", ID: userID + "/" + provider}
	}
	out := *key
	return &out, nil
}

// ListProviderKeys returns the user's keys ordered by provider
func (s *Store) ListProviderKeys(_ context.Context, userID string) ([]*llmledger.ProviderKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*llmledger.ProviderKey, 0)
	for id, key := range s.providerKeys {
		if id.userID == userID {
			k := *key
			out = append(out, &k)
		}
	}
	slices.SortFunc(out, func(a, b *llmledger.ProviderKey) int { return cmp.Compare(a.Provider, b.Provider) })
	return out, nil
}

func (s *Store) DeleteProviderKey(_ context.Context, userID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := providerKeyID{userID: userID, provider: provider}
	if _, ok := s.providerKeys[id]; !ok {
		return &llmledger.NotFoundError{Resource: "provider key", ID: userID + "/" + provider}
	}
	delete(s.providerKeys, id)
	return nil
}
