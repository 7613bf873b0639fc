// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package llmledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// KeySource tells who paid for a completion
type KeySource string

const (
	// KeySourceSystem marks a completion funded by the platform's own key
	KeySourceSystem KeySource = "system"
	// KeySourceBYOK marks a completion made with the user's own provider key
	KeySourceBYOK KeySource = "byok"
)

// Valid reports whether s is a known key source
func (s KeySource) Valid() bool {
	return s == KeySourceSystem || s == KeySourceBYOK
}

// UsageRecord is the immutable record of one completed LLM call
type UsageRecord struct {
	ID               string          `json:"id"`
	UserID           string          `json:"userId"`
	ConversationID   string          `json:"conversationId"`
	MessageID        string          `json:"messageId"`
	GenerationID     string          `json:"generationId,omitempty"`
	ModelSlug        string          `json:"modelSlug"`
	PromptTokens     int64           `json:"promptTokens"`
	CompletionTokens int64           `json:"completionTokens"`
	TotalTokens      int64           `json:"totalTokens"`
	CachedTokens     *int64          `json:"cachedTokens,omitempty"`
	ReasoningTokens  *int64          `json:"reasoningTokens,omitempty"`
	CostInCredits    decimal.Decimal `json:"costInCredits"`
	CostInUSD        decimal.Decimal `json:"costInUSD"`
	KeySource        KeySource       `json:"keySource"`
	Timestamp        time.Time       `json:"timestamp"`
	ProcessingTimeMs *int64          `json:"processingTimeMs,omitempty"`
}

// PeriodKeys returns the bucket keys the record is attributed to
func (r *UsageRecord) PeriodKeys() PeriodKeys {
	return DerivePeriodKeys(r.Timestamp)
}

// AggregateKey identifies a single aggregate bucket. An empty UserID denotes
// the system-wide aggregate.
type AggregateKey struct {
	Period    Period `json:"period"`
	PeriodKey string `json:"periodKey"`
	UserID    string `json:"userId,omitempty"`
}

// IsSystem reports whether the key addresses the system-wide aggregate
func (k AggregateKey) IsSystem() bool {
	return k.UserID == ""
}

func (k AggregateKey) String() string {
	scope := "system"
	if !k.IsSystem() {
		scope = "user:" + k.UserID
	}
	return fmt.Sprintf("%s/%s/%s", k.Period, k.PeriodKey, scope)
}

// AggregateKeysFor returns the six buckets a record contributes to: the
// user's and the system's daily, weekly and monthly aggregates.
func AggregateKeysFor(userID string, keys PeriodKeys) []AggregateKey {
	out := make([]AggregateKey, 0, 2*len(Periods))
	for _, scope := range []string{userID, ""} {
		for _, p := range Periods {
			out = append(out, AggregateKey{Period: p, PeriodKey: keys.For(p), UserID: scope})
		}
	}
	return out
}

// UsageAggregate is a rolling summary of usage within one bucket
type UsageAggregate struct {
	AggregateKey
	TotalRequests        int64           `json:"totalRequests"`
	SuccessfulRequests   int64           `json:"successfulRequests"`
	FailedRequests       int64           `json:"failedRequests"`
	TotalTokens          int64           `json:"totalTokens"`
	PromptTokens         int64           `json:"promptTokens"`
	CompletionTokens     int64           `json:"completionTokens"`
	TotalCostUSD         decimal.Decimal `json:"totalCostUSD"`
	AvgProcessingTimeMs  float64         `json:"avgProcessingTimeMs"`
	TimedRequests        int64           `json:"timedRequests"`
	UniqueModelsUsed     int             `json:"uniqueModelsUsed"`
	ModelsUsed           []string        `json:"modelsUsed"`
	ConversationsStarted int64           `json:"conversationsStarted"`
	FilesUploaded        int64           `json:"filesUploaded"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// SuccessRate is SuccessfulRequests/TotalRequests, or 0 for an empty bucket
func (a *UsageAggregate) SuccessRate() float64 {
	if a.TotalRequests == 0 {
		return 0
	}
	return float64(a.SuccessfulRequests) / float64(a.TotalRequests)
}

// UsageRecordRepository defines persistence operations for usage records
type UsageRecordRepository interface {
	// CreateUsageRecord stores a new usage record. A record whose non-empty
	// GenerationID was already stored fails with ErrDuplicateEntry.
	CreateUsageRecord(ctx context.Context, record *UsageRecord) error

	// GetUsageRecord retrieves a usage record by ID
	GetUsageRecord(ctx context.Context, id string) (*UsageRecord, error)

	// ListUsageRecordsByUser retrieves a user's records, oldest first. A zero
	// start or end leaves that side of the range open.
	ListUsageRecordsByUser(ctx context.Context, userID string, start, end time.Time) ([]*UsageRecord, error)

	// ListUsageRecordsByPeriod retrieves every user's records within [start, end], oldest first
	ListUsageRecordsByPeriod(ctx context.Context, start, end time.Time) ([]*UsageRecord, error)
}

// UsageAggregateRepository defines persistence operations for usage aggregates
type UsageAggregateRepository interface {
	// UpsertAggregate reads the aggregate at key (a zero aggregate if absent),
	// passes it to apply and stores the result. The read-apply-write of a
	// single row is never observed half done.
	UpsertAggregate(ctx context.Context, key AggregateKey, apply func(UsageAggregate) UsageAggregate) (*UsageAggregate, error)

	// GetAggregate retrieves the aggregate at key
	GetAggregate(ctx context.Context, key AggregateKey) (*UsageAggregate, error)

	// ListSystemAggregates retrieves the newest system-wide aggregates of a period
	ListSystemAggregates(ctx context.Context, period Period, limit int) ([]*UsageAggregate, error)

	// ListUserAggregates retrieves per-user aggregates of one bucket ordered by total tokens, descending
	ListUserAggregates(ctx context.Context, period Period, periodKey string, limit int) ([]*UsageAggregate, error)

	// ReplaceAggregates drops every aggregate of a bucket and stores aggregates in its place
	ReplaceAggregates(ctx context.Context, period Period, periodKey string, aggregates []*UsageAggregate) error
}
