// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !integration && !acceptance

package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/MadsRC/llmledger"
	"github.com/MadsRC/llmledger/internal/ledger"
	"github.com/MadsRC/llmledger/internal/memory"
	"github.com/MadsRC/llmledger/internal/monitoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

var (
	discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	testNow       = time.Date(2025, 3, 5, 2, 0, 0, 0, time.UTC)
)

type mockRebuilder struct {
	mock.Mock
}

func (m *mockRebuilder) RebuildAggregates(ctx context.Context, period llmledger.Period, periodKey string) (*ledger.RebuildStats, error) {
	args := m.Called(ctx, period, periodKey)
	stats, _ := args.Get(0).(*ledger.RebuildStats)
	return stats, args.Error(1)
}

func newTestMetrics(t *testing.T) (*monitoring.LedgerMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	metrics, err := monitoring.NewLedgerMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))
	require.NoError(t, err)
	return metrics, reader
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestReconcileTargets(t *testing.T) {
	got := reconcileTargets(testNow)
	assert.Equal(t, []bucket{
		{llmledger.PeriodDaily, "2025-03-04"},
		{llmledger.PeriodWeekly, "2025-W09"},
		{llmledger.PeriodMonthly, "2025-02"},
	}, got)

	for _, b := range got {
		open := llmledger.CurrentPeriodKey(b.Period, testNow)
		assert.NotEqual(t, open, b.PeriodKey, "%s bucket is still open", b.Period)
	}

	newYear := reconcileTargets(time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC))
	assert.Equal(t, "2025-12-31", newYear[0].PeriodKey)
	assert.Equal(t, "2025-W52", newYear[1].PeriodKey)
	assert.Equal(t, "2025-12", newYear[2].PeriodKey)

	monday := reconcileTargets(time.Date(2025, 3, 3, 23, 59, 0, 0, time.UTC))
	assert.Equal(t, "2025-W09", monday[1].PeriodKey)
}

func TestScheduler_Reconcile(t *testing.T) {
	ctx := context.Background()
	rebuilder := &mockRebuilder{}
	rebuilder.On("RebuildAggregates", mock.Anything, llmledger.PeriodDaily, "2025-03-04").
		Return(&ledger.RebuildStats{Period: llmledger.PeriodDaily, PeriodKey: "2025-03-04", RecordsReplayed: 3, AggregatesSaved: 2}, nil)
	rebuilder.On("RebuildAggregates", mock.Anything, llmledger.PeriodWeekly, "2025-W09").
		Return(nil, errors.New("database unavailable"))
	rebuilder.On("RebuildAggregates", mock.Anything, llmledger.PeriodMonthly, "2025-02").
		Return(&ledger.RebuildStats{Period: llmledger.PeriodMonthly, PeriodKey: "2025-02", RecordsReplayed: 9, AggregatesSaved: 4}, nil)

	store := memory.NewStore()
	metrics, reader := newTestMetrics(t)
	s := NewScheduler(rebuilder,
		WithSchedulerLogger(discardLogger),
		WithSchedulerAudit(store),
		WithSchedulerMetrics(metrics),
		WithSchedulerClock(func() time.Time { return testNow }),
	)

	err := s.Reconcile(ctx)
	require.Error(t, err)
	assert.ErrorContains(t, err, "weekly/2025-W09")
	rebuilder.AssertExpectations(t)

	entries, err := store.ListAuditEntries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, SchedulerActor, entry.ActorID)
		assert.Equal(t, llmledger.AuditActionAggregatesRebuilt, entry.Action)
	}
	assert.Equal(t, int64(1), counterValue(t, reader, "ledger_reconcile_errors_total"))
}

func TestScheduler_Reconcile_UsesClock(t *testing.T) {
	rebuilder := &mockRebuilder{}
	rebuilder.On("RebuildAggregates", mock.Anything, mock.Anything, mock.Anything).
		Return(&ledger.RebuildStats{}, nil).Times(3)

	now := testNow
	clock := func() time.Time {
		current := now
		now = now.Add(90 * time.Second)
		return current
	}

	var logs bytes.Buffer
	s := NewScheduler(rebuilder,
		WithSchedulerLogger(slog.New(slog.NewTextHandler(&logs, nil))),
		WithSchedulerClock(clock),
	)

	require.NoError(t, s.Reconcile(context.Background()))
	rebuilder.AssertExpectations(t)
	rebuilder.AssertCalled(t, "RebuildAggregates", mock.Anything, llmledger.PeriodDaily, "2025-03-04")
	assert.Contains(t, logs.String(), "duration=1m30s")
}

func TestScheduler_StartStop(t *testing.T) {
	rebuilder := &mockRebuilder{}
	rebuilder.On("RebuildAggregates", mock.Anything, mock.Anything, mock.Anything).
		Return(&ledger.RebuildStats{}, nil).Maybe()

	s := NewScheduler(rebuilder,
		WithSchedulerLogger(discardLogger),
		WithSchedulerInterval(time.Millisecond),
	)
	s.Start(context.Background())
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_ContextCancel(t *testing.T) {
	s := NewScheduler(&mockRebuilder{}, WithSchedulerLogger(discardLogger), WithSchedulerInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	select {
	case <-s.doneChan:
	case <-time.After(time.Second):
		t.Fatal("scheduler ignored context cancellation")
	}
}
