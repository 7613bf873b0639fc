// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package llmledger

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// AuditAction tags the kind of an audited administrative action
type AuditAction string

const (
	AuditActionProviderKeyStored  AuditAction = "provider_key.stored"
	AuditActionProviderKeyDeleted AuditAction = "provider_key.deleted"
	AuditActionAggregatesRebuilt  AuditAction = "aggregates.rebuilt"
)

// AuditDetails is the payload of an audit entry. The set of implementations is
// closed; each one belongs to exactly one [AuditAction].
type AuditDetails interface {
	Action() AuditAction
	auditDetails()
}

// ProviderKeyStored records that a BYOK key was created or replaced
type ProviderKeyStored struct {
	UserID   string `json:"userId"`
	Provider string `json:"provider"`
	Hint     string `json:"hint"`
	Replaced bool   `json:"replaced"`
}

func (ProviderKeyStored) Action() AuditAction { return AuditActionProviderKeyStored }
func (ProviderKeyStored) auditDetails()       {}

// ProviderKeyDeleted records that a BYOK key was removed
type ProviderKeyDeleted struct {
	UserID   string `json:"userId"`
	Provider string `json:"provider"`
}

func (ProviderKeyDeleted) Action() AuditAction { return AuditActionProviderKeyDeleted }
func (ProviderKeyDeleted) auditDetails()       {}

// AggregatesRebuilt records a replay of usage records into a bucket
type AggregatesRebuilt struct {
	Period          Period `json:"period"`
	PeriodKey       string `json:"periodKey"`
	RecordsReplayed int    `json:"recordsReplayed"`
	AggregatesSaved int    `json:"aggregatesSaved"`
}

func (AggregatesRebuilt) Action() AuditAction { return AuditActionAggregatesRebuilt }
func (AggregatesRebuilt) auditDetails()       {}

// AuditEntry is one line of the administrative audit trail
type AuditEntry struct {
	ID        string       `json:"id"`
	ActorID   string       `json:"actorId"`
	Action    AuditAction  `json:"action"`
	Details   AuditDetails `json:"details"`
	CreatedAt time.Time    `json:"createdAt"`
}

// NewAuditEntry builds an entry whose Action matches its details
func NewAuditEntry(id, actorID string, details AuditDetails, at time.Time) *AuditEntry {
	return &AuditEntry{
		ID:        id,
		ActorID:   actorID,
		Action:    details.Action(),
		Details:   details,
		CreatedAt: at.UTC(),
	}
}

// EncodeAuditDetails serializes details for storage
func EncodeAuditDetails(details AuditDetails) ([]byte, error) {
	if details == nil {
		return nil, NewValidationError("details", "missing")
	}
	return json.Marshal(details)
}

// DecodeAuditDetails restores the typed details of an action from storage
func DecodeAuditDetails(action AuditAction, raw []byte) (AuditDetails, error) {
	var details AuditDetails
	var err error
	switch action {
	case AuditActionProviderKeyStored:
		var d ProviderKeyStored
		err = json.Unmarshal(raw, &d)
		details = d
	case AuditActionProviderKeyDeleted:
		var d ProviderKeyDeleted
		err = json.Unmarshal(raw, &d)
		details = d
	case AuditActionAggregatesRebuilt:
		var d AggregatesRebuilt
		err = json.Unmarshal(raw, &d)
		details = d
	default:
		return nil, fmt.Errorf("unknown audit action %q", action)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s details: %w", action, err)
	}
	return details, nil
}

// AuditRepository defines persistence operations for the audit trail
type AuditRepository interface {
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	// ListAuditEntries retrieves the newest entries first
	ListAuditEntries(ctx context.Context, limit int) ([]*AuditEntry, error)
}
