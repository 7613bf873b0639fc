// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/MadsRC/llmledger"
	"github.com/MadsRC/llmledger/internal/cache"
	"github.com/MadsRC/llmledger/internal/monitoring"
	"github.com/shopspring/decimal"
)

// Quota metric names
const (
	QuotaMetricTokens = "tokens"
	QuotaMetricCost   = "cost_usd"
)

// DefaultQuotaThresholds are the fractions of a quota that raise an alert
var DefaultQuotaThresholds = []float64{0.8, 1.0}

// alertRetention outlives the longest bucket so an alert is raised once per bucket
const alertRetention = 32 * 24 * time.Hour

// PeriodTotals reads a user's cumulative aggregate for a bucket
type PeriodTotals interface {
	GetUserPeriodTotals(ctx context.Context, userID string, period llmledger.Period, at time.Time) (*llmledger.UsageAggregate, error)
}

// Quota is the usage allowed within one bucket of a period. A zero limit is
// not enforced.
type Quota struct {
	Tokens  int64
	CostUSD decimal.Decimal
}

// QuotaUsage is the consumption of one quota metric
type QuotaUsage struct {
	Metric   string  `json:"metric"`
	Used     string  `json:"used"`
	Limit    string  `json:"limit"`
	Fraction float64 `json:"fraction"`
}

// QuotaAlert is a crossed threshold
type QuotaAlert struct {
	Metric    string  `json:"metric"`
	Threshold float64 `json:"threshold"`
	Fraction  float64 `json:"fraction"`
}

// QuotaStatus is the outcome of evaluating a user's quotas for a bucket
type QuotaStatus struct {
	UserID    string           `json:"userId"`
	Period    llmledger.Period `json:"period"`
	PeriodKey string           `json:"periodKey"`
	Usage     []QuotaUsage     `json:"usage"`
	Alerts    []QuotaAlert     `json:"alerts"`
}

// QuotaMonitor compares per-user aggregates against configured quotas
type QuotaMonitor struct {
	logger     *slog.Logger
	totals     PeriodTotals
	quotas     map[llmledger.Period]Quota
	thresholds []float64
	metrics    *monitoring.LedgerMetrics
	now        func() time.Time
	alerted    *cache.Cache[string, struct{}]
}

// QuotaMonitorOption configures QuotaMonitor behavior
type QuotaMonitorOption func(*QuotaMonitor)

// WithQuotaMonitorLogger sets the logger for the monitor
func WithQuotaMonitorLogger(logger *slog.Logger) QuotaMonitorOption {
	return func(m *QuotaMonitor) {
		m.logger = logger
	}
}

// WithQuota sets the quota for a period
func WithQuota(period llmledger.Period, quota Quota) QuotaMonitorOption {
	return func(m *QuotaMonitor) {
		m.quotas[period] = quota
	}
}

// WithQuotaThresholds replaces the alert thresholds. Non-positive values are ignored.
func WithQuotaThresholds(thresholds ...float64) QuotaMonitorOption {
	return func(m *QuotaMonitor) {
		m.thresholds = m.thresholds[:0]
		for _, t := range thresholds {
			if t > 0 {
				m.thresholds = append(m.thresholds, t)
			}
		}
	}
}

// WithQuotaMonitorMetrics sets the metrics first-time alerts are counted in
func WithQuotaMonitorMetrics(metrics *monitoring.LedgerMetrics) QuotaMonitorOption {
	return func(m *QuotaMonitor) {
		m.metrics = metrics
	}
}

// WithQuotaMonitorClock sets the source of the current time
func WithQuotaMonitorClock(now func() time.Time) QuotaMonitorOption {
	return func(m *QuotaMonitor) {
		m.now = now
	}
}

// NewQuotaMonitor creates a new QuotaMonitor instance
func NewQuotaMonitor(totals PeriodTotals, options ...QuotaMonitorOption) *QuotaMonitor {
	m := &QuotaMonitor{
		logger:     slog.Default(),
		totals:     totals,
		quotas:     make(map[llmledger.Period]Quota),
		thresholds: slices.Clone(DefaultQuotaThresholds),
		now:        time.Now,
	}

	for _, opt := range options {
		opt(m)
	}
	slices.Sort(m.thresholds)
	m.alerted = cache.New[string, struct{}](alertRetention, cache.WithClock(m.now), cache.WithSweepInterval(time.Hour))

	return m
}

// Evaluate returns the user's consumption of the quotas of period in the
// current bucket, with every threshold crossed. Metrics and logs are only
// emitted the first time a threshold is crossed within a bucket.
func (m *QuotaMonitor) Evaluate(ctx context.Context, userID string, period llmledger.Period) (*QuotaStatus, error) {
	if !period.Valid() {
		return nil, llmledger.NewValidationError("period", fmt.Sprintf("unknown period %q", period))
	}

	agg, err := m.totals.GetUserPeriodTotals(ctx, userID, period, m.now())
	if err != nil {
		return nil, err
	}

	status := &QuotaStatus{
		UserID:    userID,
		Period:    period,
		PeriodKey: agg.PeriodKey,
		Usage:     []QuotaUsage{},
		Alerts:    []QuotaAlert{},
	}

	quota, ok := m.quotas[period]
	if !ok {
		return status, nil
	}

	if quota.Tokens > 0 {
		fraction := float64(agg.TotalTokens) / float64(quota.Tokens)
		status.Usage = append(status.Usage, QuotaUsage{
			Metric:   QuotaMetricTokens,
			Used:     fmt.Sprint(agg.TotalTokens),
			Limit:    fmt.Sprint(quota.Tokens),
			Fraction: fraction,
		})
		m.collectAlerts(ctx, status, QuotaMetricTokens, fraction)
	}

	if quota.CostUSD.IsPositive() {
		fraction, _ := agg.TotalCostUSD.Div(quota.CostUSD).Float64()
		status.Usage = append(status.Usage, QuotaUsage{
			Metric:   QuotaMetricCost,
			Used:     agg.TotalCostUSD.String(),
			Limit:    quota.CostUSD.String(),
			Fraction: fraction,
		})
		m.collectAlerts(ctx, status, QuotaMetricCost, fraction)
	}

	return status, nil
}

func (m *QuotaMonitor) collectAlerts(ctx context.Context, status *QuotaStatus, metric string, fraction float64) {
	for _, threshold := range m.thresholds {
		if fraction < threshold {
			break
		}
		status.Alerts = append(status.Alerts, QuotaAlert{Metric: metric, Threshold: threshold, Fraction: fraction})

		key := fmt.Sprintf("%s|%s|%s|%s|%g", status.UserID, status.Period, status.PeriodKey, metric, threshold)
		if _, seen := m.alerted.Get(key); seen {
			continue
		}
		m.alerted.Set(key, struct{}{})

		m.logger.Warn("Usage quota threshold crossed",
			"userID", status.UserID,
			"period", status.Period,
			"periodKey", status.PeriodKey,
			"metric", metric,
			"threshold", threshold,
			"fraction", fraction)
		if m.metrics != nil {
			m.metrics.RecordQuotaAlert(ctx, string(status.Period), metric, threshold)
		}
	}
}

// Close releases the monitor's background resources
func (m *QuotaMonitor) Close() {
	m.alerted.Close()
}
