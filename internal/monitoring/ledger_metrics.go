// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package monitoring

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type LedgerMetrics struct {
	recordsTotal       metric.Int64Counter
	tokensTotal        metric.Int64Counter
	costUSDTotal       metric.Float64Counter
	recordLatency      metric.Float64Histogram
	aggregateFailures  metric.Int64Counter
	rebuildsTotal      metric.Int64Counter
	recordsReplayed    metric.Int64Counter
	quotaAlertsTotal   metric.Int64Counter
	reconcileErrsTotal metric.Int64Counter
}

func NewLedgerMetrics(meter metric.Meter) (*LedgerMetrics, error) {
	recordsTotal, err := meter.Int64Counter(
		"ledger_usage_records_total",
		metric.WithDescription("Usage records stored"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage_records_total counter: %w", err)
	}

	tokensTotal, err := meter.Int64Counter(
		"ledger_tokens_total",
		metric.WithDescription("Tokens recorded by model and key source"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens_total counter: %w", err)
	}

	costUSDTotal, err := meter.Float64Counter(
		"ledger_cost_usd_total",
		metric.WithDescription("Upstream cost recorded, in USD"),
		metric.WithUnit("USD"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cost_usd_total counter: %w", err)
	}

	recordLatency, err := meter.Float64Histogram(
		"ledger_record_latency_seconds",
		metric.WithDescription("Time to store a record and update its aggregates"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create record_latency histogram: %w", err)
	}

	aggregateFailures, err := meter.Int64Counter(
		"ledger_aggregate_update_failures_total",
		metric.WithDescription("Aggregate upserts that failed after the record was stored"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregate_update_failures_total counter: %w", err)
	}

	rebuildsTotal, err := meter.Int64Counter(
		"ledger_aggregate_rebuilds_total",
		metric.WithDescription("Aggregate buckets rebuilt from records"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregate_rebuilds_total counter: %w", err)
	}

	recordsReplayed, err := meter.Int64Counter(
		"ledger_records_replayed_total",
		metric.WithDescription("Usage records replayed during rebuilds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create records_replayed_total counter: %w", err)
	}

	quotaAlertsTotal, err := meter.Int64Counter(
		"ledger_quota_alerts_total",
		metric.WithDescription("Quota threshold crossings"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create quota_alerts_total counter: %w", err)
	}

	reconcileErrsTotal, err := meter.Int64Counter(
		"ledger_reconcile_errors_total",
		metric.WithDescription("Failed scheduled reconciliation runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconcile_errors_total counter: %w", err)
	}

	return &LedgerMetrics{
		recordsTotal:       recordsTotal,
		tokensTotal:        tokensTotal,
		costUSDTotal:       costUSDTotal,
		recordLatency:      recordLatency,
		aggregateFailures:  aggregateFailures,
		rebuildsTotal:      rebuildsTotal,
		recordsReplayed:    recordsReplayed,
		quotaAlertsTotal:   quotaAlertsTotal,
		reconcileErrsTotal: reconcileErrsTotal,
	}, nil
}

func (lm *LedgerMetrics) RecordUsage(ctx context.Context, model string, keySource string, tokens int64, costUSD float64) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("key_source", keySource),
	)
	lm.recordsTotal.Add(ctx, 1, attrs)
	lm.tokensTotal.Add(ctx, tokens, attrs)
	lm.costUSDTotal.Add(ctx, costUSD, attrs)
}

func (lm *LedgerMetrics) RecordLatency(ctx context.Context, duration time.Duration) {
	lm.recordLatency.Record(ctx, duration.Seconds())
}

func (lm *LedgerMetrics) RecordAggregateFailure(ctx context.Context, period string) {
	lm.aggregateFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("period", period)))
}

func (lm *LedgerMetrics) RecordRebuild(ctx context.Context, period string, records int64) {
	attrs := metric.WithAttributes(attribute.String("period", period))
	lm.rebuildsTotal.Add(ctx, 1, attrs)
	lm.recordsReplayed.Add(ctx, records, attrs)
}

func (lm *LedgerMetrics) RecordQuotaAlert(ctx context.Context, period string, metricName string, threshold float64) {
	lm.quotaAlertsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("period", period),
			attribute.String("metric", metricName),
			attribute.Float64("threshold", threshold),
		),
	)
}

func (lm *LedgerMetrics) RecordReconcileError(ctx context.Context) {
	lm.reconcileErrsTotal.Add(ctx, 1)
}
