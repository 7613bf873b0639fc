// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MadsRC/llmledger"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var _ llmledger.UsageRecordRepository = (*UsageRepository)(nil)

const usageRecordColumns = `id::text, user_id, conversation_id, message_id, COALESCE(generation_id, ''),
			model_slug, prompt_tokens, completion_tokens, total_tokens,
			cached_tokens, reasoning_tokens, cost_in_credits::text, cost_in_usd::text,
			key_source, timestamp, processing_time_ms`

// CreateUsageRecord stores a new usage record
func (r *UsageRepository) CreateUsageRecord(ctx context.Context, record *llmledger.UsageRecord) error {
	query := `
		INSERT INTO usage_records (
			id, user_id, conversation_id, message_id, generation_id,
			model_slug, prompt_tokens, completion_tokens, total_tokens,
			cached_tokens, reasoning_tokens, cost_in_credits, cost_in_usd,
			key_source, timestamp, processing_time_ms
		)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12::numeric, $13::numeric, $14, $15, $16)`

	_, err := r.options.Db.Exec(ctx, query,
		record.ID,
		record.UserID,
		record.ConversationID,
		record.MessageID,
		record.GenerationID,
		record.ModelSlug,
		record.PromptTokens,
		record.CompletionTokens,
		record.TotalTokens,
		record.CachedTokens,
		record.ReasoningTokens,
		record.CostInCredits.String(),
		record.CostInUSD.String(),
		string(record.KeySource),
		record.Timestamp,
		record.ProcessingTimeMs,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return llmledger.ErrDuplicateEntry
		}
		if isForeignKeyViolation(err) {
			return &llmledger.NotFoundError{Resource: "user", ID: record.UserID}
		}
		r.options.Logger.Error("Failed to create usage record", "error", err, "userID", record.UserID)
		return err
	}
	return nil
}

// GetUsageRecord retrieves a usage record by ID
func (r *UsageRepository) GetUsageRecord(ctx context.Context, id string) (*llmledger.UsageRecord, error) {
	query := `SELECT ` + usageRecordColumns + ` FROM usage_records WHERE id::text = $1`

	record, err := scanUsageRecord(r.options.Db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &llmledger.NotFoundError{Resource: "usage record", ID: id}
	}
	if err != nil {
		r.options.Logger.Error("Failed to get usage record", "error", err, "id", id)
		return nil, err
	}
	return record, nil
}

// ListUsageRecordsByUser retrieves a user's usage records within [start, end], oldest first
func (r *UsageRepository) ListUsageRecordsByUser(ctx context.Context, userID string, start, end time.Time) ([]*llmledger.UsageRecord, error) {
	query := `
		SELECT ` + usageRecordColumns + `
		FROM usage_records
		WHERE user_id = $1
			AND ($2::timestamptz IS NULL OR timestamp >= $2)
			AND ($3::timestamptz IS NULL OR timestamp <= $3)
		ORDER BY timestamp ASC, id ASC`

	return r.listUsageRecords(ctx, query, userID, nullableTime(start), nullableTime(end))
}

// ListUsageRecordsByPeriod retrieves all usage records within [start, end], oldest first
func (r *UsageRepository) ListUsageRecordsByPeriod(ctx context.Context, start, end time.Time) ([]*llmledger.UsageRecord, error) {
	query := `
		SELECT ` + usageRecordColumns + `
		FROM usage_records
		WHERE ($1::timestamptz IS NULL OR timestamp >= $1)
			AND ($2::timestamptz IS NULL OR timestamp <= $2)
		ORDER BY timestamp ASC, id ASC`

	return r.listUsageRecords(ctx, query, nullableTime(start), nullableTime(end))
}

func (r *UsageRepository) listUsageRecords(ctx context.Context, query string, args ...any) ([]*llmledger.UsageRecord, error) {
	rows, err := r.options.Db.Query(ctx, query, args...)
	if err != nil {
		r.options.Logger.Error("Failed to list usage records", "error", err)
		return nil, err
	}
	defer rows.Close()

	records := make([]*llmledger.UsageRecord, 0)
	for rows.Next() {
		record, err := scanUsageRecord(rows)
		if err != nil {
			r.options.Logger.Error("Failed to scan usage record row", "error", err)
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		r.options.Logger.Error("Error iterating usage record rows", "error", err)
		return nil, err
	}
	return records, nil
}

func scanUsageRecord(row rowScanner) (*llmledger.UsageRecord, error) {
	var (
		record               llmledger.UsageRecord
		costCredits, costUSD string
		keySource            string
	)
	err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.ConversationID,
		&record.MessageID,
		&record.GenerationID,
		&record.ModelSlug,
		&record.PromptTokens,
		&record.CompletionTokens,
		&record.TotalTokens,
		&record.CachedTokens,
		&record.ReasoningTokens,
		&costCredits,
		&costUSD,
		&keySource,
		&record.Timestamp,
		&record.ProcessingTimeMs,
	)
	if err != nil {
		return nil, err
	}

	if record.CostInCredits, err = decimal.NewFromString(costCredits); err != nil {
		return nil, fmt.Errorf("invalid cost_in_credits %q: %w", costCredits, err)
	}
	if record.CostInUSD, err = decimal.NewFromString(costUSD); err != nil {
		return nil, fmt.Errorf("invalid cost_in_usd %q: %w", costUSD, err)
	}
	record.KeySource = llmledger.KeySource(keySource)
	record.Timestamp = record.Timestamp.UTC()
	return &record, nil
}
