// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/MadsRC/llmledger"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var _ llmledger.UsageAggregateRepository = (*UsageRepository)(nil)

const aggregateColumns = `period, period_key, user_id,
			total_requests, successful_requests, failed_requests,
			total_tokens, prompt_tokens, completion_tokens, total_cost_usd::text,
			avg_processing_time_ms, timed_requests, unique_models_used, models_used,
			conversations_started, files_uploaded, created_at, updated_at`

// UpsertAggregate applies fn to the aggregate at key inside a transaction.
// The row is created empty if missing and then locked, so concurrent upserts
// of one bucket serialise instead of losing updates.
func (r *UsageRepository) UpsertAggregate(ctx context.Context, key llmledger.AggregateKey, apply func(llmledger.UsageAggregate) llmledger.UsageAggregate) (*llmledger.UsageAggregate, error) {
	var result llmledger.UsageAggregate
	err := inTx(ctx, r.options.Db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO usage_aggregates (period, period_key, user_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (period, period_key, user_id) DO NOTHING`,
			string(key.Period), key.PeriodKey, key.UserID)
		if err != nil {
			return fmt.Errorf("failed to ensure aggregate row: %w", err)
		}

		prior, err := scanAggregate(tx.QueryRow(ctx, `
			SELECT `+aggregateColumns+`
			FROM usage_aggregates
			WHERE period = $1 AND period_key = $2 AND user_id = $3
			FOR UPDATE`,
			string(key.Period), key.PeriodKey, key.UserID))
		if err != nil {
			return fmt.Errorf("failed to lock aggregate row: %w", err)
		}

		result = apply(*prior)
		result.AggregateKey = key

		_, err = tx.Exec(ctx, `
			UPDATE usage_aggregates SET
				total_requests = $4, successful_requests = $5, failed_requests = $6,
				total_tokens = $7, prompt_tokens = $8, completion_tokens = $9,
				total_cost_usd = $10::numeric, avg_processing_time_ms = $11,
				timed_requests = $12, unique_models_used = $13, models_used = $14,
				conversations_started = $15, files_uploaded = $16,
				created_at = $17, updated_at = $18
			WHERE period = $1 AND period_key = $2 AND user_id = $3`,
			aggregateArgs(&result)...)
		if err != nil {
			return fmt.Errorf("failed to update aggregate row: %w", err)
		}
		return nil
	})
	if err != nil {
		r.options.Logger.Error("Failed to upsert usage aggregate", "error", err, "aggregate", key.String())
		return nil, err
	}
	return &result, nil
}

// GetAggregate retrieves the aggregate at key
func (r *UsageRepository) GetAggregate(ctx context.Context, key llmledger.AggregateKey) (*llmledger.UsageAggregate, error) {
	query := `
		SELECT ` + aggregateColumns + `
		FROM usage_aggregates
		WHERE period = $1 AND period_key = $2 AND user_id = $3`

	agg, err := scanAggregate(r.options.Db.QueryRow(ctx, query, string(key.Period), key.PeriodKey, key.UserID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &llmledger.NotFoundError{Resource: "usage aggregate", ID: key.String()}
	}
	if err != nil {
		r.options.Logger.Error("Failed to get usage aggregate", "error", err, "aggregate", key.String())
		return nil, err
	}
	return agg, nil
}

// ListSystemAggregates retrieves the newest system-wide aggregates of period
func (r *UsageRepository) ListSystemAggregates(ctx context.Context, period llmledger.Period, limit int) ([]*llmledger.UsageAggregate, error) {
	query := `
		SELECT ` + aggregateColumns + `
		FROM usage_aggregates
		WHERE period = $1 AND user_id = ''
		ORDER BY period_key DESC
		LIMIT $2`

	return r.listAggregates(ctx, query, string(period), limit)
}

// ListUserAggregates retrieves the per-user aggregates of one bucket, heaviest
// first. A limit of 0 or less returns every row.
func (r *UsageRepository) ListUserAggregates(ctx context.Context, period llmledger.Period, periodKey string, limit int) ([]*llmledger.UsageAggregate, error) {
	query := `
		SELECT ` + aggregateColumns + `
		FROM usage_aggregates
		WHERE period = $1 AND period_key = $2 AND user_id <> ''
		ORDER BY total_tokens DESC, user_id ASC
		LIMIT NULLIF($3, 0)`

	return r.listAggregates(ctx, query, string(period), periodKey, max(limit, 0))
}

// ReplaceAggregates swaps every aggregate of a bucket for aggregates in one transaction
func (r *UsageRepository) ReplaceAggregates(ctx context.Context, period llmledger.Period, periodKey string, aggregates []*llmledger.UsageAggregate) error {
	for _, agg := range aggregates {
		if agg.Period != period || agg.PeriodKey != periodKey {
			return llmledger.NewValidationError("aggregates", "aggregate "+agg.String()+" is outside the bucket being replaced")
		}
	}

	err := inTx(ctx, r.options.Db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM usage_aggregates WHERE period = $1 AND period_key = $2`, string(period), periodKey)
		if err != nil {
			return fmt.Errorf("failed to clear bucket: %w", err)
		}
		for _, agg := range aggregates {
			_, err := tx.Exec(ctx, `
				INSERT INTO usage_aggregates (
					period, period_key, user_id,
					total_requests, successful_requests, failed_requests,
					total_tokens, prompt_tokens, completion_tokens,
					total_cost_usd, avg_processing_time_ms, timed_requests,
					unique_models_used, models_used,
					conversations_started, files_uploaded,
					created_at, updated_at
				)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11, $12, $13, $14, $15, $16, $17, $18)`,
				aggregateArgs(agg)...)
			if err != nil {
				return fmt.Errorf("failed to insert aggregate %s: %w", agg.String(), err)
			}
		}
		return nil
	})
	if err != nil {
		r.options.Logger.Error("Failed to replace usage aggregates", "error", err, "period", period, "periodKey", periodKey)
		return err
	}
	return nil
}

func (r *UsageRepository) listAggregates(ctx context.Context, query string, args ...any) ([]*llmledger.UsageAggregate, error) {
	rows, err := r.options.Db.Query(ctx, query, args...)
	if err != nil {
		r.options.Logger.Error("Failed to list usage aggregates", "error", err)
		return nil, err
	}
	defer rows.Close()

	aggregates := make([]*llmledger.UsageAggregate, 0)
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			r.options.Logger.Error("Failed to scan usage aggregate row", "error", err)
			return nil, err
		}
		aggregates = append(aggregates, agg)
	}

	if err := rows.Err(); err != nil {
		r.options.Logger.Error("Error iterating usage aggregate rows", "error", err)
		return nil, err
	}
	return aggregates, nil
}

// aggregateArgs returns the $1..$18 arguments shared by the update and insert statements
func aggregateArgs(agg *llmledger.UsageAggregate) []any {
	models := agg.ModelsUsed
	if models == nil {
		models = []string{}
	}
	return []any{
		string(agg.Period),
		agg.PeriodKey,
		agg.UserID,
		agg.TotalRequests,
		agg.SuccessfulRequests,
		agg.FailedRequests,
		agg.TotalTokens,
		agg.PromptTokens,
		agg.CompletionTokens,
		agg.TotalCostUSD.String(),
		agg.AvgProcessingTimeMs,
		agg.TimedRequests,
		agg.UniqueModelsUsed,
		models,
		agg.ConversationsStarted,
		agg.FilesUploaded,
		agg.CreatedAt,
		agg.UpdatedAt,
	}
}

func scanAggregate(row rowScanner) (*llmledger.UsageAggregate, error) {
	var (
		agg     llmledger.UsageAggregate
		period  string
		costUSD string
	)
	err := row.Scan(
		&period,
		&agg.PeriodKey,
		&agg.UserID,
		&agg.TotalRequests,
		&agg.SuccessfulRequests,
		&agg.FailedRequests,
		&agg.TotalTokens,
		&agg.PromptTokens,
		&agg.CompletionTokens,
		&costUSD,
		&agg.AvgProcessingTimeMs,
		&agg.TimedRequests,
		&agg.UniqueModelsUsed,
		&agg.ModelsUsed,
		&agg.ConversationsStarted,
		&agg.FilesUploaded,
		&agg.CreatedAt,
		&agg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	agg.Period = llmledger.Period(period)
	if agg.TotalCostUSD, err = decimal.NewFromString(costUSD); err != nil {
		return nil, fmt.Errorf("invalid total_cost_usd %q: %w", costUSD, err)
	}
	if agg.ModelsUsed == nil {
		agg.ModelsUsed = []string{}
	}
	agg.CreatedAt = agg.CreatedAt.UTC()
	agg.UpdatedAt = agg.UpdatedAt.UTC()
	return &agg, nil
}
