// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MadsRC/llmledger"
	"github.com/MadsRC/llmledger/internal/ledger"
	"github.com/MadsRC/llmledger/internal/monitoring"
)

// SchedulerActor is the audit actor recorded for scheduled rebuilds
const SchedulerActor = "scheduler"

// Rebuilder recomputes the aggregates of a bucket from raw usage records
type Rebuilder interface {
	RebuildAggregates(ctx context.Context, period llmledger.Period, periodKey string) (*ledger.RebuildStats, error)
}

// Scheduler periodically reconciles aggregates against the usage records
type Scheduler struct {
	logger    *slog.Logger
	rebuilder Rebuilder
	audit     llmledger.AuditRepository
	auditor   *Auditor
	metrics   *monitoring.LedgerMetrics
	interval  time.Duration
	now       func() time.Time
	stopChan  chan struct{}
	doneChan  chan struct{}
	stopOnce  sync.Once
}

// SchedulerOption configures Scheduler behavior
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the logger for the scheduler
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithSchedulerInterval sets how often aggregates are reconciled
func WithSchedulerInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.interval = interval
	}
}

// WithSchedulerAudit records every rebuild in the audit trail
func WithSchedulerAudit(audit llmledger.AuditRepository) SchedulerOption {
	return func(s *Scheduler) {
		s.audit = audit
	}
}

// WithSchedulerMetrics sets the metrics failed reconciliations are counted in
func WithSchedulerMetrics(metrics *monitoring.LedgerMetrics) SchedulerOption {
	return func(s *Scheduler) {
		s.metrics = metrics
	}
}

// WithSchedulerClock sets the source of the current time
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a new Scheduler instance
func NewScheduler(rebuilder Rebuilder, options ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		logger:    slog.Default(),
		rebuilder: rebuilder,
		interval:  time.Hour,
		now:       time.Now,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}

	for _, opt := range options {
		opt(s)
	}
	if s.audit != nil {
		s.auditor = NewAuditor(s.audit, s.logger, s.now)
	}

	return s
}

// Start begins the scheduler's background operations
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting background scheduler", "reconcileInterval", s.interval)

	go s.run(ctx)
}

// Stop gracefully shuts down the scheduler. It must only be called after Start.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping background scheduler")
		close(s.stopChan)
	})
	<-s.doneChan
	s.logger.Info("Background scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled")
			return

		case <-s.stopChan:
			s.logger.Info("Scheduler stop signal received")
			return

		case <-ticker.C:
			_ = s.Reconcile(ctx)
		}
	}
}

// bucket is one aggregate bucket selected for reconciliation
type bucket struct {
	Period    llmledger.Period
	PeriodKey string
}

// reconcileTargets are the most recently closed buckets of each period:
// yesterday, the previous ISO week and the previous month. Open buckets are
// left alone since other instances may still be writing to them.
func reconcileTargets(now time.Time) []bucket {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return []bucket{
		{llmledger.PeriodDaily, llmledger.CurrentPeriodKey(llmledger.PeriodDaily, today.AddDate(0, 0, -1))},
		{llmledger.PeriodWeekly, llmledger.CurrentPeriodKey(llmledger.PeriodWeekly, today.AddDate(0, 0, -7))},
		{llmledger.PeriodMonthly, llmledger.CurrentPeriodKey(llmledger.PeriodMonthly, firstOfMonth.AddDate(0, 0, -1))},
	}
}

// Reconcile rebuilds every target bucket once. A failing bucket does not stop
// the others; all failures are returned joined.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	s.logger.Info("Running scheduled aggregate reconciliation")
	start := s.now()

	var errs []error
	for _, b := range reconcileTargets(start) {
		stats, err := s.rebuilder.RebuildAggregates(ctx, b.Period, b.PeriodKey)
		if err != nil {
			s.logger.Error("Aggregate reconciliation failed", "error", err, "period", b.Period, "periodKey", b.PeriodKey)
			if s.metrics != nil {
				s.metrics.RecordReconcileError(ctx)
			}
			errs = append(errs, fmt.Errorf("%s/%s: %w", b.Period, b.PeriodKey, err))
			continue
		}
		s.auditor.RecordRebuild(ctx, SchedulerActor, stats.Period, stats.PeriodKey, stats.RecordsReplayed, stats.AggregatesSaved)
	}

	s.logger.Info("Aggregate reconciliation completed", "duration", s.now().Sub(start), "failures", len(errs))
	return errors.Join(errs...)
}
