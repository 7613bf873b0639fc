// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package ledger

import (
	"slices"
	"strings"
	"time"

	"github.com/MadsRC/llmledger"
)

// ApplyRecord folds one successful usage record into an aggregate. It does not
// modify prior; the returned aggregate shares no memory with it.
//
// The processing-time average is weighted by the number of timed requests
// before the increment. A record without a processing time leaves the average
// and the timed count untouched.
func ApplyRecord(prior llmledger.UsageAggregate, record *llmledger.UsageRecord, now time.Time) llmledger.UsageAggregate {
	next := prior
	next.ModelsUsed = slices.Clone(prior.ModelsUsed)

	if record.ProcessingTimeMs != nil {
		count := float64(prior.TimedRequests)
		next.AvgProcessingTimeMs = (prior.AvgProcessingTimeMs*count + float64(*record.ProcessingTimeMs)) / (count + 1)
		next.TimedRequests++
	}

	next.TotalRequests++
	next.SuccessfulRequests++
	next.PromptTokens += record.PromptTokens
	next.CompletionTokens += record.CompletionTokens
	next.TotalTokens += record.TotalTokens
	next.TotalCostUSD = prior.TotalCostUSD.Add(record.CostInUSD)

	if i, found := slices.BinarySearch(next.ModelsUsed, record.ModelSlug); !found {
		next.ModelsUsed = slices.Insert(next.ModelsUsed, i, record.ModelSlug)
	}
	next.UniqueModelsUsed = len(next.ModelsUsed)

	stamp(&next, now)
	return next
}

// ActivityKind is a non-completion event counted in aggregates
type ActivityKind string

const (
	ActivityConversationStarted ActivityKind = "conversation_started"
	ActivityFileUploaded        ActivityKind = "file_uploaded"
)

func (k ActivityKind) valid() bool {
	return k == ActivityConversationStarted || k == ActivityFileUploaded
}

// ApplyActivity counts one activity event into an aggregate. Request and
// token counters are untouched.
func ApplyActivity(prior llmledger.UsageAggregate, kind ActivityKind, now time.Time) llmledger.UsageAggregate {
	next := prior
	next.ModelsUsed = slices.Clone(prior.ModelsUsed)
	switch kind {
	case ActivityConversationStarted:
		next.ConversationsStarted++
	case ActivityFileUploaded:
		next.FilesUploaded++
	}
	stamp(&next, now)
	return next
}

func stamp(agg *llmledger.UsageAggregate, now time.Time) {
	now = now.UTC()
	if agg.CreatedAt.IsZero() {
		agg.CreatedAt = now
	}
	agg.UpdatedAt = now
}

// foldRecords replays records into fresh per-user and system aggregates of a
// single bucket. The result is ordered system first, then by user ID.
func foldRecords(period llmledger.Period, periodKey string, records []*llmledger.UsageRecord, now time.Time) []*llmledger.UsageAggregate {
	byScope := make(map[string]*llmledger.UsageAggregate)
	get := func(userID string) *llmledger.UsageAggregate {
		agg, ok := byScope[userID]
		if !ok {
			agg = &llmledger.UsageAggregate{
				AggregateKey: llmledger.AggregateKey{Period: period, PeriodKey: periodKey, UserID: userID},
			}
			byScope[userID] = agg
		}
		return agg
	}

	for _, record := range records {
		if record.PeriodKeys().For(period) != periodKey {
			continue
		}
		for _, scope := range []string{record.UserID, ""} {
			agg := get(scope)
			*agg = ApplyRecord(*agg, record, now)
		}
	}

	out := make([]*llmledger.UsageAggregate, 0, len(byScope))
	for _, agg := range byScope {
		out = append(out, agg)
	}
	slices.SortFunc(out, func(a, b *llmledger.UsageAggregate) int {
		return strings.Compare(a.UserID, b.UserID)
	})
	return out
}
