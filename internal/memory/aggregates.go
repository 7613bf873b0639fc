// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package memory

import (
	"context"
	"slices"

	"github.com/MadsRC/llmledger"
)

// UpsertAggregate applies fn to the aggregate at key under the store's write
// lock, so concurrent upserts of one row never lose updates.
func (s *Store) UpsertAggregate(_ context.Context, key llmledger.AggregateKey, apply func(llmledger.UsageAggregate) llmledger.UsageAggregate) (*llmledger.UsageAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prior := llmledger.UsageAggregate{AggregateKey: key}
	if existing, ok := s.aggregates[key]; ok {
		prior = *cloneAggregate(existing)
	}

	next := apply(prior)
	next.AggregateKey = key
	s.aggregates[key] = cloneAggregate(&next)
	return cloneAggregate(&next), nil
}

func (s *Store) GetAggregate(_ context.Context, key llmledger.AggregateKey) (*llmledger.UsageAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg, ok := s.aggregates[key]
	if !ok {
		return nil, &llmledger.NotFoundError{Resource: "usage aggregate", ID: key.String()}
	}
	return cloneAggregate(agg), nil
}

func (s *Store) ListSystemAggregates(_ context.Context, period llmledger.Period, limit int) ([]*llmledger.UsageAggregate, error) {
	out := s.filterAggregates(func(k llmledger.AggregateKey) bool {
		return k.Period == period && k.IsSystem()
	})
	sortNewestBucketFirst(out)
	return truncate(out, limit), nil
}

// ListUserAggregates returns the bucket's per-user rows. A limit of 0 or less
// returns all of them.
func (s *Store) ListUserAggregates(_ context.Context, period llmledger.Period, periodKey string, limit int) ([]*llmledger.UsageAggregate, error) {
	out := s.filterAggregates(func(k llmledger.AggregateKey) bool {
		return k.Period == period && k.PeriodKey == periodKey && !k.IsSystem()
	})
	sortByTokens(out)
	return truncate(out, limit), nil
}

func (s *Store) ReplaceAggregates(_ context.Context, period llmledger.Period, periodKey string, aggregates []*llmledger.UsageAggregate) error {
	for _, agg := range aggregates {
		if agg.Period != period || agg.PeriodKey != periodKey {
			return llmledger.NewValidationError("aggregates", "aggregate "+agg.String()+" is outside the bucket being replaced")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.aggregates {
		if key.Period == period && key.PeriodKey == periodKey {
			delete(s.aggregates, key)
		}
	}
	for _, agg := range aggregates {
		s.aggregates[agg.AggregateKey] = cloneAggregate(agg)
	}
	return nil
}

func (s *Store) filterAggregates(match func(llmledger.AggregateKey) bool) []*llmledger.UsageAggregate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*llmledger.UsageAggregate, 0)
	for key, agg := range s.aggregates {
		if match(key) {
			out = append(out, cloneAggregate(agg))
		}
	}
	return out
}

func truncate(aggs []*llmledger.UsageAggregate, limit int) []*llmledger.UsageAggregate {
	if limit > 0 && len(aggs) > limit {
		return aggs[:limit]
	}
	return aggs
}

func cloneAggregate(agg *llmledger.UsageAggregate) *llmledger.UsageAggregate {
	out := *agg
	out.ModelsUsed = slices.Clone(agg.ModelsUsed)
	if out.ModelsUsed == nil {
		out.ModelsUsed = []string{}
	}
	return &out
}
