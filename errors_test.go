// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !integration && !acceptance

package llmledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	err := fmt.Errorf("record usage: %w", NewValidationError("totalTokens", "must not be negative"))

	assert.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrStore)

	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "totalTokens", vErr.Field)
	assert.Equal(t, "record usage: invalid totalTokens: must not be negative", err.Error())
}

func TestNotFoundError(t *testing.T) {
	err := &NotFoundError{Resource: "user", ID: "user-1"}
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, `user "user-1" not found`, err.Error())
}

func TestStoreError(t *testing.T) {
	cause := errors.New("connection reset")
	err := &StoreError{Op: "upsert aggregate", RecordID: "rec-1", Err: cause}

	assert.ErrorIs(t, err, ErrStore)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "upsert aggregate (record rec-1): connection reset", err.Error())

	noRecord := &StoreError{Op: "create usage record", Err: cause}
	assert.Equal(t, "create usage record: connection reset", noRecord.Error())
}
