// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package memory

import (
	"context"
	"time"

	"github.com/MadsRC/llmledger"
)

// CreateUsageRecord stores a record. The owning user must exist.
func (s *Store) CreateUsageRecord(_ context.Context, record *llmledger.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[record.UserID]; !ok {
		return &llmledger.NotFoundError{Resource: "user", ID: record.UserID}
	}
	if _, ok := s.records[record.ID]; ok {
		return llmledger.ErrDuplicateEntry
	}
	if record.GenerationID != "" {
		if _, ok := s.generations[record.GenerationID]; ok {
			return llmledger.ErrDuplicateEntry
		}
		s.generations[record.GenerationID] = record.ID
	}

	s.records[record.ID] = cloneRecord(record)
	s.recordOrder = append(s.recordOrder, record.ID)
	return nil
}

func (s *Store) GetUsageRecord(_ context.Context, id string) (*llmledger.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, &llmledger.NotFoundError{Resource: "usage record", ID: id}
	}
	return cloneRecord(record), nil
}

func (s *Store) ListUsageRecordsByUser(_ context.Context, userID string, start, end time.Time) ([]*llmledger.UsageRecord, error) {
	return s.listRecords(func(r *llmledger.UsageRecord) bool {
		return r.UserID == userID && inRange(r.Timestamp, start, end)
	}), nil
}

func (s *Store) ListUsageRecordsByPeriod(_ context.Context, start, end time.Time) ([]*llmledger.UsageRecord, error) {
	return s.listRecords(func(r *llmledger.UsageRecord) bool {
		return inRange(r.Timestamp, start, end)
	}), nil
}

// listRecords returns matching records oldest first, insertion order breaking ties.
func (s *Store) listRecords(match func(*llmledger.UsageRecord) bool) []*llmledger.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*llmledger.UsageRecord, 0)
	for _, id := range s.recordOrder {
		if r := s.records[id]; match(r) {
			out = append(out, cloneRecord(r))
		}
	}
	sortRecords(out)
	return out
}

func inRange(t, start, end time.Time) bool {
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() && t.After(end) {
		return false
	}
	return true
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneRecord(r *llmledger.UsageRecord) *llmledger.UsageRecord {
	out := *r
	out.CachedTokens = cloneInt(r.CachedTokens)
	out.ReasoningTokens = cloneInt(r.ReasoningTokens)
	out.ProcessingTimeMs = cloneInt(r.ProcessingTimeMs)
	return &out
}
