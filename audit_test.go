// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !integration && !acceptance

package llmledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditDetails_RoundTripThroughActionTag(t *testing.T) {
	tests := []AuditDetails{
		ProviderKeyStored{UserID: "user-1", Provider: "openai", Hint: "x9Zq", Replaced: true},
		ProviderKeyDeleted{UserID: "user-1", Provider: "anthropic"},
		AggregatesRebuilt{Period: PeriodWeekly, PeriodKey: "2025-W01", RecordsReplayed: 12, AggregatesSaved: 4},
	}

	for _, details := range tests {
		t.Run(string(details.Action()), func(t *testing.T) {
			raw, err := EncodeAuditDetails(details)
			require.NoError(t, err)

			decoded, err := DecodeAuditDetails(details.Action(), raw)
			require.NoError(t, err)
			assert.Equal(t, details, decoded)
		})
	}
}

func TestDecodeAuditDetails_UnknownAction(t *testing.T) {
	_, err := DecodeAuditDetails(AuditAction("user.deleted"), []byte(`{}`))
	assert.Error(t, err)
}

func TestDecodeAuditDetails_MalformedPayload(t *testing.T) {
	_, err := DecodeAuditDetails(AuditActionProviderKeyDeleted, []byte(`{"userId":`))
	assert.Error(t, err)
}

func TestEncodeAuditDetails_Nil(t *testing.T) {
	_, err := EncodeAuditDetails(nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewAuditEntry_TakesActionFromDetails(t *testing.T) {
	entry := NewAuditEntry("id-1", "admin", ProviderKeyDeleted{UserID: "u", Provider: "p"}, mustParseTime("2025-01-01T10:00:00+01:00"))
	assert.Equal(t, AuditActionProviderKeyDeleted, entry.Action)
	assert.Equal(t, "2025-01-01T09:00:00Z", entry.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
}
