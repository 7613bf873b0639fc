// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"context"
	"time"

	"github.com/MadsRC/llmledger"
	"github.com/MadsRC/llmledger/internal/cache"
)

// CachedUserRepository wraps a UserRepository with a profile cache. Profiles
// are only joined onto dashboards, so briefly stale names are acceptable.
type CachedUserRepository struct {
	underlying llmledger.UserRepository
	users      *cache.Cache[string, *llmledger.User]
}

var _ llmledger.UserRepository = (*CachedUserRepository)(nil)

// NewCachedUserRepository creates a new cached user repository
func NewCachedUserRepository(underlying llmledger.UserRepository, cacheTTL time.Duration) *CachedUserRepository {
	return &CachedUserRepository{
		underlying: underlying,
		users:      cache.New[string, *llmledger.User](cacheTTL),
	}
}

// Create writes through and drops the cached profile
func (r *CachedUserRepository) Create(ctx context.Context, user *llmledger.User) error {
	defer r.users.Delete(user.ID)
	return r.underlying.Create(ctx, user)
}

// Get retrieves a user by ID with caching
func (r *CachedUserRepository) Get(ctx context.Context, id string) (*llmledger.User, error) {
	user, err := r.users.GetOrLoad(ctx, id, func(ctx context.Context) (*llmledger.User, error) {
		return r.underlying.Get(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	out := *user
	return &out, nil
}

// GetByIDs serves cached profiles and fetches the rest in one call
func (r *CachedUserRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*llmledger.User, error) {
	found := make(map[string]*llmledger.User, len(ids))
	var missing []string
	for _, id := range ids {
		if user, ok := r.users.Get(id); ok {
			u := *user
			found[id] = &u
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return found, nil
	}

	loaded, err := r.underlying.GetByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, user := range loaded {
		r.users.Set(id, user)
		u := *user
		found[id] = &u
	}
	return found, nil
}

// Close stops the cache's background sweeper
func (r *CachedUserRepository) Close() {
	r.users.Close()
}
