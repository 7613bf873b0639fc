// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package memory

import (
	"context"
	"slices"

	"github.com/MadsRC/llmledger"
)

func (s *Store) CreateAuditEntry(_ context.Context, entry *llmledger.AuditEntry) error {
	if entry.Details == nil {
		return llmledger.NewValidationError("details", "missing")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *entry
	s.audit = append(s.audit, &stored)
	return nil
}

// ListAuditEntries returns up to limit entries, newest first. Entries
// sharing a timestamp are returned newest insertion first.
func (s *Store) ListAuditEntries(_ context.Context, limit int) ([]*llmledger.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*llmledger.AuditEntry, 0, len(s.audit))
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := *s.audit[i]
		out = append(out, &e)
	}
	slices.SortStableFunc(out, func(a, b *llmledger.AuditEntry) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
