// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package memory holds process-local implementations of the ledger's
// repositories. Data does not survive a restart.
package memory

import (
	"sync"

	"github.com/MadsRC/llmledger"
)

// Store implements every llmledger repository using in-memory maps
type Store struct {
	mu sync.RWMutex

	users        map[string]*llmledger.User
	records      map[string]*llmledger.UsageRecord
	recordOrder  []string
	generations  map[string]string
	aggregates   map[llmledger.AggregateKey]*llmledger.UsageAggregate
	models       map[string]*llmledger.CatalogModel
	providerKeys map[providerKeyID]*llmledger.ProviderKey
	audit        []*llmledger.AuditEntry
}

type providerKeyID struct {
	userID   string
	provider string
}

var (
	_ llmledger.UserRepository           = (*Store)(nil)
	_ llmledger.UsageRecordRepository    = (*Store)(nil)
	_ llmledger.UsageAggregateRepository = (*Store)(nil)
	_ llmledger.ModelCatalogRepository   = (*Store)(nil)
	_ llmledger.ProviderKeyRepository    = (*Store)(nil)
	_ llmledger.AuditRepository          = (*Store)(nil)
)

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		users:        make(map[string]*llmledger.User),
		records:      make(map[string]*llmledger.UsageRecord),
		generations:  make(map[string]string),
		aggregates:   make(map[llmledger.AggregateKey]*llmledger.UsageAggregate),
		models:       make(map[string]*llmledger.CatalogModel),
		providerKeys: make(map[providerKeyID]*llmledger.ProviderKey),
	}
}
