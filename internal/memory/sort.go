// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package memory

import (
	"cmp"
	"slices"

	"github.com/MadsRC/llmledger"
)

func sortRecords(records []*llmledger.UsageRecord) {
	slices.SortStableFunc(records, func(a, b *llmledger.UsageRecord) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}

func sortNewestBucketFirst(aggs []*llmledger.UsageAggregate) {
	slices.SortFunc(aggs, func(a, b *llmledger.UsageAggregate) int {
		return cmp.Compare(b.PeriodKey, a.PeriodKey)
	})
}

func sortByTokens(aggs []*llmledger.UsageAggregate) {
	slices.SortFunc(aggs, func(a, b *llmledger.UsageAggregate) int {
		if c := cmp.Compare(b.TotalTokens, a.TotalTokens); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
}
