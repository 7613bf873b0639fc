// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !integration && !acceptance

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MadsRC/llmledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTotals struct {
	agg *llmledger.UsageAggregate
	err error
}

func (s stubTotals) GetUserPeriodTotals(_ context.Context, userID string, period llmledger.Period, at time.Time) (*llmledger.UsageAggregate, error) {
	if s.err != nil {
		return nil, s.err
	}
	agg := *s.agg
	agg.AggregateKey = llmledger.AggregateKey{Period: period, PeriodKey: llmledger.CurrentPeriodKey(period, at), UserID: userID}
	return &agg, nil
}

func TestQuotaMonitor_Evaluate(t *testing.T) {
	ctx := context.Background()
	totals := stubTotals{agg: &llmledger.UsageAggregate{
		TotalTokens:  85_000,
		TotalCostUSD: decimal.RequireFromString("12.5"),
	}}
	metrics, reader := newTestMetrics(t)
	m := NewQuotaMonitor(totals,
		WithQuotaMonitorLogger(discardLogger),
		WithQuotaMonitorMetrics(metrics),
		WithQuotaMonitorClock(func() time.Time { return testNow }),
		WithQuota(llmledger.PeriodMonthly, Quota{Tokens: 100_000, CostUSD: decimal.RequireFromString("10")}),
	)
	defer m.Close()

	status, err := m.Evaluate(ctx, "user-1", llmledger.PeriodMonthly)
	require.NoError(t, err)
	assert.Equal(t, "2025-03", status.PeriodKey)
	require.Len(t, status.Usage, 2)
	assert.InDelta(t, 0.85, status.Usage[0].Fraction, 1e-9)
	assert.Equal(t, "12.5", status.Usage[1].Used)
	assert.InDelta(t, 1.25, status.Usage[1].Fraction, 1e-9)

	assert.Equal(t, []QuotaAlert{
		{Metric: QuotaMetricTokens, Threshold: 0.8, Fraction: 0.85},
		{Metric: QuotaMetricCost, Threshold: 0.8, Fraction: 1.25},
		{Metric: QuotaMetricCost, Threshold: 1.0, Fraction: 1.25},
	}, status.Alerts)
	assert.Equal(t, int64(3), counterValue(t, reader, "ledger_quota_alerts_total"))

	// a second evaluation reports the alerts but does not count them again
	status, err = m.Evaluate(ctx, "user-1", llmledger.PeriodMonthly)
	require.NoError(t, err)
	assert.Len(t, status.Alerts, 3)
	assert.Equal(t, int64(3), counterValue(t, reader, "ledger_quota_alerts_total"))
}

func TestQuotaMonitor_NoQuota(t *testing.T) {
	m := NewQuotaMonitor(stubTotals{agg: &llmledger.UsageAggregate{TotalTokens: 1 << 40}}, WithQuotaMonitorLogger(discardLogger))
	defer m.Close()

	status, err := m.Evaluate(context.Background(), "user-1", llmledger.PeriodDaily)
	require.NoError(t, err)
	assert.Empty(t, status.Usage)
	assert.Empty(t, status.Alerts)
}

func TestQuotaMonitor_CustomThresholds(t *testing.T) {
	m := NewQuotaMonitor(stubTotals{agg: &llmledger.UsageAggregate{TotalTokens: 600}},
		WithQuotaMonitorLogger(discardLogger),
		WithQuotaThresholds(1.0, 0.5, -1),
		WithQuota(llmledger.PeriodDaily, Quota{Tokens: 1000}),
	)
	defer m.Close()

	status, err := m.Evaluate(context.Background(), "user-1", llmledger.PeriodDaily)
	require.NoError(t, err)
	require.Len(t, status.Alerts, 1)
	assert.Equal(t, 0.5, status.Alerts[0].Threshold)
}

func TestQuotaMonitor_Errors(t *testing.T) {
	m := NewQuotaMonitor(stubTotals{err: errors.New("boom")}, WithQuotaMonitorLogger(discardLogger))
	defer m.Close()

	_, err := m.Evaluate(context.Background(), "user-1", llmledger.Period("hourly"))
	assert.ErrorIs(t, err, llmledger.ErrValidation)

	_, err = m.Evaluate(context.Background(), "user-1", llmledger.PeriodDaily)
	assert.ErrorContains(t, err, "boom")
}
