// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MadsRC/llmledger"
	"github.com/MadsRC/llmledger/internal/ledger"
	"github.com/MadsRC/llmledger/internal/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ledger"),
		tcpostgres.WithUsername("ledger"),
		tcpostgres.WithPassword("ledger"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, container.Terminate(ctx))
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, postgres.RunMigrations(logger, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresLedger(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	users, err := postgres.NewUserRepository(postgres.WithUserRepositoryDb(pool), postgres.WithUserRepositoryLogger(logger))
	require.NoError(t, err)
	usage, err := postgres.NewUsageRepository(postgres.WithUsageRepositoryDb(pool), postgres.WithUsageRepositoryLogger(logger))
	require.NoError(t, err)

	for i := range 3 {
		require.NoError(t, users.Create(ctx, &llmledger.User{
			ID:    fmt.Sprintf("user-%d", i+1),
			Email: fmt.Sprintf("user-%d@example.com", i+1),
			Name:  fmt.Sprintf("User %d", i+1),
		}))
	}

	now := time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)
	l, err := ledger.NewLedger(
		ledger.WithLedgerLogger(logger),
		ledger.WithLedgerRecordRepository(usage),
		ledger.WithLedgerAggregateRepository(usage),
		ledger.WithLedgerUserRepository(users),
		ledger.WithLedgerClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	t.Run("concurrent records keep aggregates consistent", func(t *testing.T) {
		const workers = 20
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.RecordUsage(ctx, ledger.UsageInput{
					UserID:           fmt.Sprintf("user-%d", i%3+1),
					ConversationID:   "conv-1",
					MessageID:        fmt.Sprintf("msg-%d", i),
					GenerationID:     fmt.Sprintf("gen-%d", i),
					ModelSlug:        "openai/gpt-4o",
					PromptTokens:     60,
					CompletionTokens: 40,
					CostInUSD:        decimal.RequireFromString("0.001"),
					Timestamp:        now.Add(-time.Duration(i) * time.Minute),
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		system, err := usage.GetAggregate(ctx, llmledger.AggregateKey{Period: llmledger.PeriodDaily, PeriodKey: "2025-03-01"})
		require.NoError(t, err)
		assert.Equal(t, int64(workers), system.TotalRequests)
		assert.Equal(t, int64(workers*100), system.TotalTokens)
		assert.Equal(t, "0.02", system.TotalCostUSD.String())
		assert.Equal(t, []string{"openai/gpt-4o"}, system.ModelsUsed)

		u1, err := l.GetUserUsage(ctx, "user-1", ledger.UsageQuery{})
		require.NoError(t, err)
		agg, err := l.GetUserPeriodTotals(ctx, "user-1", llmledger.PeriodMonthly, now)
		require.NoError(t, err)
		assert.Equal(t, u1.TotalTokens, agg.TotalTokens)
		assert.Equal(t, u1.Requests, agg.TotalRequests)
	})

	t.Run("duplicate generation is rejected", func(t *testing.T) {
		_, err := l.RecordUsage(ctx, ledger.UsageInput{
			UserID:           "user-1",
			ConversationID:   "conv-1",
			MessageID:        "msg-dup",
			GenerationID:     "gen-0",
			ModelSlug:        "openai/gpt-4o",
			PromptTokens:     1,
			CompletionTokens: 1,
			Timestamp:        now,
		})
		assert.ErrorIs(t, err, llmledger.ErrDuplicateEntry)
	})

	t.Run("unknown user is rejected", func(t *testing.T) {
		_, err := l.RecordUsage(ctx, ledger.UsageInput{
			UserID:           "ghost",
			ConversationID:   "conv-1",
			MessageID:        "msg-ghost",
			ModelSlug:        "openai/gpt-4o",
			PromptTokens:     1,
			CompletionTokens: 1,
			Timestamp:        now,
		})
		assert.ErrorIs(t, err, llmledger.ErrNotFound)
	})

	t.Run("rebuild reproduces incremental aggregates", func(t *testing.T) {
		before, err := l.GetTopUsersByUsage(ctx, llmledger.PeriodDaily, 10)
		require.NoError(t, err)

		stats, err := l.RebuildAggregates(ctx, llmledger.PeriodDaily, "2025-03-01")
		require.NoError(t, err)
		assert.Equal(t, 20, stats.RecordsReplayed)
		assert.Equal(t, 4, stats.AggregatesSaved)

		after, err := l.GetTopUsersByUsage(ctx, llmledger.PeriodDaily, 10)
		require.NoError(t, err)
		require.Len(t, after, len(before))
		for i := range before {
			assert.Equal(t, before[i].UserID, after[i].UserID)
			assert.Equal(t, before[i].TotalTokens, after[i].TotalTokens)
			assert.True(t, before[i].TotalCostUSD.Equal(after[i].TotalCostUSD))
			require.NotNil(t, after[i].User)
		}
	})
}
