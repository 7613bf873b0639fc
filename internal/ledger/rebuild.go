// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MadsRC/llmledger"
)

// RebuildStats summarises a call to [Ledger.RebuildAggregates]
type RebuildStats struct {
	Period          llmledger.Period `json:"period"`
	PeriodKey       string           `json:"periodKey"`
	RecordsReplayed int              `json:"recordsReplayed"`
	AggregatesSaved int              `json:"aggregatesSaved"`
}

// RebuildAggregates recomputes every aggregate of one bucket by replaying the
// usage records that fall into it. Activity counters, which have no backing
// records, are carried over from the rows being replaced.
//
// A rebuild waits for in-flight RecordUsage and RecordActivity calls of this
// Ledger and blocks new ones until it is done. Writers in other processes are
// not excluded; rebuild only closed buckets when several instances share a
// database.
func (l *Ledger) RebuildAggregates(ctx context.Context, period llmledger.Period, periodKey string) (*RebuildStats, error) {
	if !period.Valid() {
		return nil, llmledger.NewValidationError("period", fmt.Sprintf("unknown period %q", period))
	}
	start, end, err := llmledger.PeriodRange(period, periodKey)
	if err != nil {
		return nil, err
	}

	l.writes.Lock()
	defer l.writes.Unlock()

	records, err := l.options.Records.ListUsageRecordsByPeriod(ctx, start, end)
	if err != nil {
		l.options.Logger.Error("Failed to list usage records for rebuild", "error", err, "period", period, "periodKey", periodKey)
		return nil, &llmledger.StoreError{Op: "list usage records", Err: err}
	}

	existing, err := l.existingAggregates(ctx, period, periodKey)
	if err != nil {
		l.options.Logger.Error("Failed to read aggregates for rebuild", "error", err, "period", period, "periodKey", periodKey)
		return nil, &llmledger.StoreError{Op: "list usage aggregates", Err: err}
	}

	rebuilt := foldRecords(period, periodKey, records, l.options.Now())
	rebuilt = carryActivity(rebuilt, existing)

	if err := l.options.Aggregates.ReplaceAggregates(ctx, period, periodKey, rebuilt); err != nil {
		l.options.Logger.Error("Failed to replace aggregates", "error", err, "period", period, "periodKey", periodKey)
		return nil, &llmledger.StoreError{Op: "replace usage aggregates", Err: err}
	}

	stats := &RebuildStats{
		Period:          period,
		PeriodKey:       periodKey,
		RecordsReplayed: len(records),
		AggregatesSaved: len(rebuilt),
	}
	if l.options.Metrics != nil {
		l.options.Metrics.RecordRebuild(ctx, string(period), int64(stats.RecordsReplayed))
	}
	l.options.Logger.Info("Aggregates rebuilt",
		"period", period,
		"periodKey", periodKey,
		"records", stats.RecordsReplayed,
		"aggregates", stats.AggregatesSaved)
	return stats, nil
}

func (l *Ledger) existingAggregates(ctx context.Context, period llmledger.Period, periodKey string) ([]*llmledger.UsageAggregate, error) {
	users, err := l.options.Aggregates.ListUserAggregates(ctx, period, periodKey, 0)
	if err != nil {
		return nil, err
	}
	system, err := l.options.Aggregates.GetAggregate(ctx, llmledger.AggregateKey{Period: period, PeriodKey: periodKey})
	if errors.Is(err, llmledger.ErrNotFound) {
		return users, nil
	}
	if err != nil {
		return nil, err
	}
	return append(users, system), nil
}

// carryActivity copies activity counters and creation times from existing
// rows onto rebuilt ones. Rows that only held activity survive as such.
func carryActivity(rebuilt, existing []*llmledger.UsageAggregate) []*llmledger.UsageAggregate {
	byScope := make(map[string]*llmledger.UsageAggregate, len(rebuilt))
	for _, agg := range rebuilt {
		byScope[agg.UserID] = agg
	}

	for _, old := range existing {
		agg, ok := byScope[old.UserID]
		if !ok {
			if old.ConversationsStarted == 0 && old.FilesUploaded == 0 {
				continue
			}
			agg = &llmledger.UsageAggregate{
				AggregateKey: old.AggregateKey,
				ModelsUsed:   []string{},
				UpdatedAt:    old.UpdatedAt,
			}
			byScope[old.UserID] = agg
			rebuilt = append(rebuilt, agg)
		}
		agg.ConversationsStarted = old.ConversationsStarted
		agg.FilesUploaded = old.FilesUploaded
		if !old.CreatedAt.IsZero() {
			agg.CreatedAt = old.CreatedAt
		}
	}

	slices.SortFunc(rebuilt, func(a, b *llmledger.UsageAggregate) int {
		return strings.Compare(a.UserID, b.UserID)
	})
	return rebuilt
}
