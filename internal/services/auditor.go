// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/MadsRC/llmledger"
	"github.com/google/uuid"
)

// Auditor appends entries to the audit trail. Failures are logged and never
// fail the audited operation. A nil Auditor records nothing.
type Auditor struct {
	repo   llmledger.AuditRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditor creates an Auditor writing to repo. A nil now uses time.Now.
func NewAuditor(repo llmledger.AuditRepository, logger *slog.Logger, now func() time.Time) *Auditor {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{repo: repo, logger: logger, now: now}
}

// Record stores details as an action performed by actorID
func (a *Auditor) Record(ctx context.Context, actorID string, details llmledger.AuditDetails) {
	if a == nil || a.repo == nil {
		return
	}
	id, err := uuid.NewV7()
	if err != nil {
		a.logger.Error("Failed to generate audit entry id", "error", err)
		return
	}
	if err := a.repo.CreateAuditEntry(ctx, llmledger.NewAuditEntry(id.String(), actorID, details, a.now())); err != nil {
		a.logger.Error("Failed to record audit entry", "error", err, "action", details.Action(), "actor", actorID)
	}
}

// RecordRebuild stores the outcome of an aggregate rebuild
func (a *Auditor) RecordRebuild(ctx context.Context, actorID string, period llmledger.Period, periodKey string, recordsReplayed, aggregatesSaved int) {
	a.Record(ctx, actorID, llmledger.AggregatesRebuilt{
		Period:          period,
		PeriodKey:       periodKey,
		RecordsReplayed: recordsReplayed,
		AggregatesSaved: aggregatesSaved,
	})
}
