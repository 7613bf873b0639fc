// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MadsRC/llmledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UsageInput is a completed generation as reported by the LLM gateway
type UsageInput struct {
	UserID           string              `json:"userId"`
	ConversationID   string              `json:"conversationId"`
	MessageID        string              `json:"messageId"`
	GenerationID     string              `json:"generationId"`
	ModelSlug        string              `json:"modelSlug"`
	PromptTokens     int64               `json:"promptTokens"`
	CompletionTokens int64               `json:"completionTokens"`
	TotalTokens      int64               `json:"totalTokens"`
	CachedTokens     *int64              `json:"cachedTokens,omitempty"`
	ReasoningTokens  *int64              `json:"reasoningTokens,omitempty"`
	CostInCredits    decimal.Decimal     `json:"costInCredits"`
	CostInUSD        decimal.Decimal     `json:"costInUSD"`
	KeySource        llmledger.KeySource `json:"keySource,omitempty"`
	Timestamp        time.Time           `json:"timestamp"`
	ProcessingTimeMs *int64              `json:"processingTimeMs,omitempty"`
}

// RecordUsage persists a usage record for a successful completion and folds
// it into the six aggregates it belongs to. It returns the new record's ID.
//
// The record is the source of truth. If an aggregate update fails after the
// record was stored, a [llmledger.StoreError] carrying the record ID is
// returned and the record stays in place.
func (l *Ledger) RecordUsage(ctx context.Context, input UsageInput) (string, error) {
	start := l.options.Now()

	record, err := l.newRecord(input)
	if err != nil {
		return "", err
	}

	l.checkCostPlausibility(ctx, record)

	l.writes.RLock()
	defer l.writes.RUnlock()

	if err := l.options.Records.CreateUsageRecord(ctx, record); err != nil {
		if errors.Is(err, llmledger.ErrDuplicateEntry) || errors.Is(err, llmledger.ErrNotFound) {
			return "", err
		}
		l.options.Logger.Error("Failed to create usage record",
			"error", err,
			"userID", record.UserID,
			"generationID", record.GenerationID)
		return "", &llmledger.StoreError{Op: "create usage record", Err: err}
	}

	now := l.options.Now()
	err = l.upsertAll(ctx, record.UserID, record.PeriodKeys(), func(prior llmledger.UsageAggregate) llmledger.UsageAggregate {
		return ApplyRecord(prior, record, now)
	})
	if err != nil {
		return "", &llmledger.StoreError{Op: "update usage aggregates", RecordID: record.ID, Err: err}
	}

	if l.options.Metrics != nil {
		cost, _ := record.CostInUSD.Float64()
		l.options.Metrics.RecordUsage(ctx, record.ModelSlug, string(record.KeySource), record.TotalTokens, cost)
		l.options.Metrics.RecordLatency(ctx, l.options.Now().Sub(start))
	}

	l.options.Logger.Debug("Usage recorded",
		"recordID", record.ID,
		"userID", record.UserID,
		"model", record.ModelSlug,
		"totalTokens", record.TotalTokens,
		"costUSD", record.CostInUSD.String())

	return record.ID, nil
}

// ActivityInput is a non-completion event attributed to a user
type ActivityInput struct {
	UserID    string       `json:"userId"`
	Kind      ActivityKind `json:"kind"`
	Timestamp time.Time    `json:"timestamp"`
}

// RecordActivity counts a started conversation or uploaded file into the
// user's and the system's aggregates.
func (l *Ledger) RecordActivity(ctx context.Context, input ActivityInput) error {
	if strings.TrimSpace(input.UserID) == "" {
		return llmledger.NewValidationError("userId", "required")
	}
	if !input.Kind.valid() {
		return llmledger.NewValidationError("kind", fmt.Sprintf("unknown activity %q", input.Kind))
	}
	at := input.Timestamp
	if at.IsZero() {
		at = l.options.Now()
	}

	l.writes.RLock()
	defer l.writes.RUnlock()

	now := l.options.Now()
	err := l.upsertAll(ctx, input.UserID, llmledger.DerivePeriodKeys(at), func(prior llmledger.UsageAggregate) llmledger.UsageAggregate {
		return ApplyActivity(prior, input.Kind, now)
	})
	if err != nil {
		return &llmledger.StoreError{Op: "update usage aggregates", Err: err}
	}
	return nil
}

// upsertAll applies fn to all six aggregates of userID. Every bucket is
// attempted; failures are joined.
func (l *Ledger) upsertAll(ctx context.Context, userID string, keys llmledger.PeriodKeys, fn func(llmledger.UsageAggregate) llmledger.UsageAggregate) error {
	var errs []error
	for _, key := range llmledger.AggregateKeysFor(userID, keys) {
		if _, err := l.options.Aggregates.UpsertAggregate(ctx, key, fn); err != nil {
			l.options.Logger.Error("Failed to upsert usage aggregate", "error", err, "aggregate", key.String())
			if l.options.Metrics != nil {
				l.options.Metrics.RecordAggregateFailure(ctx, string(key.Period))
			}
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (l *Ledger) newRecord(input UsageInput) (*llmledger.UsageRecord, error) {
	if err := validateInput(&input); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate record id: %w", err)
	}

	timestamp := input.Timestamp
	if timestamp.IsZero() {
		timestamp = l.options.Now()
	}

	return &llmledger.UsageRecord{
		ID:               id.String(),
		UserID:           input.UserID,
		ConversationID:   input.ConversationID,
		MessageID:        input.MessageID,
		GenerationID:     input.GenerationID,
		ModelSlug:        input.ModelSlug,
		PromptTokens:     input.PromptTokens,
		CompletionTokens: input.CompletionTokens,
		TotalTokens:      input.TotalTokens,
		CachedTokens:     input.CachedTokens,
		ReasoningTokens:  input.ReasoningTokens,
		CostInCredits:    input.CostInCredits,
		CostInUSD:        input.CostInUSD,
		KeySource:        input.KeySource,
		Timestamp:        timestamp.UTC().Truncate(time.Millisecond),
		ProcessingTimeMs: input.ProcessingTimeMs,
	}, nil
}

// validateInput rejects malformed input and fills in derivable defaults.
func validateInput(input *UsageInput) error {
	input.UserID = strings.TrimSpace(input.UserID)
	input.ConversationID = strings.TrimSpace(input.ConversationID)
	input.MessageID = strings.TrimSpace(input.MessageID)
	input.GenerationID = strings.TrimSpace(input.GenerationID)
	input.ModelSlug = strings.TrimSpace(input.ModelSlug)

	required := []struct {
		field string
		value string
	}{
		{"userId", input.UserID},
		{"conversationId", input.ConversationID},
		{"messageId", input.MessageID},
		{"modelSlug", input.ModelSlug},
	}
	for _, r := range required {
		if r.value == "" {
			return llmledger.NewValidationError(r.field, "required")
		}
	}

	counts := []struct {
		field string
		value *int64
	}{
		{"promptTokens", &input.PromptTokens},
		{"completionTokens", &input.CompletionTokens},
		{"totalTokens", &input.TotalTokens},
		{"cachedTokens", input.CachedTokens},
		{"reasoningTokens", input.ReasoningTokens},
		{"processingTimeMs", input.ProcessingTimeMs},
	}
	for _, c := range counts {
		if c.value != nil && *c.value < 0 {
			return llmledger.NewValidationError(c.field, "must not be negative")
		}
	}

	sum := input.PromptTokens + input.CompletionTokens
	if input.TotalTokens == 0 {
		input.TotalTokens = sum
	}
	if input.TotalTokens != sum {
		return llmledger.NewValidationError("totalTokens",
			fmt.Sprintf("%d does not equal promptTokens + completionTokens (%d)", input.TotalTokens, sum))
	}

	if input.CostInUSD.IsNegative() {
		return llmledger.NewValidationError("costInUSD", "must not be negative")
	}
	if input.CostInCredits.IsNegative() {
		return llmledger.NewValidationError("costInCredits", "must not be negative")
	}

	if input.KeySource == "" {
		input.KeySource = llmledger.KeySourceSystem
	}
	if !input.KeySource.Valid() {
		return llmledger.NewValidationError("keySource", fmt.Sprintf("unknown key source %q", input.KeySource))
	}
	return nil
}

// scaleTolerance bounds the ratio between reported and estimated cost before
// the reported figure is flagged as mis-scaled.
const scaleTolerance = 1000.0

// checkCostPlausibility compares the upstream USD cost with an estimate from
// catalog pricing and logs a warning when they are orders of magnitude apart.
// The upstream figure is stored unchanged either way.
func (l *Ledger) checkCostPlausibility(ctx context.Context, record *llmledger.UsageRecord) {
	if l.options.Catalog == nil {
		return
	}
	model, err := l.options.Catalog.GetModel(ctx, record.ModelSlug)
	if err != nil {
		if !errors.Is(err, llmledger.ErrNotFound) {
			l.options.Logger.Debug("Model catalog lookup failed", "error", err, "model", record.ModelSlug)
		}
		return
	}

	estimate := float64(record.PromptTokens)*model.Model.Pricing.InputTokenPrice +
		float64(record.CompletionTokens)*model.Model.Pricing.OutputTokenPrice
	reported, _ := record.CostInUSD.Float64()

	if costLooksMisscaled(reported, estimate) {
		l.options.Logger.Warn("Reported cost is far from catalog estimate",
			"model", record.ModelSlug,
			"generationID", record.GenerationID,
			"reportedUSD", reported,
			"estimatedUSD", estimate)
	}
}

func costLooksMisscaled(reported, estimate float64) bool {
	if reported <= 0 || estimate <= 0 {
		return false
	}
	ratio := reported / estimate
	return ratio > scaleTolerance || ratio < 1/scaleTolerance
}
