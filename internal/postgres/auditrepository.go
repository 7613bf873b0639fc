// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"context"

	"github.com/MadsRC/llmledger"
)

var _ llmledger.AuditRepository = (*AuditRepository)(nil)

// CreateAuditEntry appends an entry to the audit trail
func (r *AuditRepository) CreateAuditEntry(ctx context.Context, entry *llmledger.AuditEntry) error {
	details, err := llmledger.EncodeAuditDetails(entry.Details)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_log (id, actor_id, action, details, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = r.options.Db.Exec(ctx, query,
		entry.ID,
		entry.ActorID,
		string(entry.Action),
		details,
		entry.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return llmledger.ErrDuplicateEntry
		}
		r.options.Logger.Error("Failed to create audit entry", "error", err, "action", entry.Action)
		return err
	}
	return nil
}

// ListAuditEntries retrieves the newest entries first
func (r *AuditRepository) ListAuditEntries(ctx context.Context, limit int) ([]*llmledger.AuditEntry, error) {
	query := `
		SELECT id::text, actor_id, action, details, created_at
		FROM audit_log
		ORDER BY created_at DESC, id DESC
		LIMIT $1`

	rows, err := r.options.Db.Query(ctx, query, limit)
	if err != nil {
		r.options.Logger.Error("Failed to list audit entries", "error", err)
		return nil, err
	}
	defer rows.Close()

	entries := make([]*llmledger.AuditEntry, 0)
	for rows.Next() {
		var (
			entry   llmledger.AuditEntry
			action  string
			details []byte
		)
		if err := rows.Scan(&entry.ID, &entry.ActorID, &action, &details, &entry.CreatedAt); err != nil {
			r.options.Logger.Error("Failed to scan audit entry row", "error", err)
			return nil, err
		}
		entry.Action = llmledger.AuditAction(action)
		if entry.Details, err = llmledger.DecodeAuditDetails(entry.Action, details); err != nil {
			r.options.Logger.Error("Failed to decode audit details", "error", err, "id", entry.ID)
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		r.options.Logger.Error("Error iterating audit entry rows", "error", err)
		return nil, err
	}
	return entries, nil
}
