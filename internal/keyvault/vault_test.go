// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !integration && !acceptance

package keyvault

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVault(t *testing.T, opts ...VaultOption) *Vault {
	t.Helper()
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 32))
	v, err := New(key, opts...)
	require.NoError(t, err)
	return v
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{name: "missing", key: "", wantErr: ErrMasterKeyMissing},
		{name: "not base64", key: "%%%"},
		{name: "too short", key: base64.StdEncoding.EncodeToString([]byte("short"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.key)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}

	generated, err := GenerateMasterKey()
	require.NoError(t, err)
	_, err = New(generated)
	assert.NoError(t, err)
}

func TestVault_RoundTrip(t *testing.T) {
	v := newTestVault(t)

	sealed, err := v.Encrypt("user-1", "sk-or-v1-abcdef123456")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "abcdef")

	plain, err := v.Decrypt("user-1", sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-or-v1-abcdef123456", plain)
}

func TestVault_NonceIsRandom(t *testing.T) {
	v := newTestVault(t)
	a, err := v.Encrypt("user-1", "sk-test-key")
	require.NoError(t, err)
	b, err := v.Encrypt("user-1", "sk-test-key")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVault_BoundToUser(t *testing.T) {
	v := newTestVault(t)
	sealed, err := v.Encrypt("user-1", "sk-test-key")
	require.NoError(t, err)

	_, err = v.Decrypt("user-2", sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestVault_Tampered(t *testing.T) {
	v := newTestVault(t)
	sealed, err := v.Encrypt("user-1", "sk-test-key")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	_, err = v.Decrypt("user-1", base64.StdEncoding.EncodeToString(raw))
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = v.Decrypt("user-1", "not base64!")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = v.Decrypt("user-1", base64.StdEncoding.EncodeToString([]byte("tiny")))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestVault_Errors(t *testing.T) {
	v := newTestVault(t, WithRandom(failingReader{}))
	_, err := v.Encrypt("user-1", "sk-test-key")
	assert.ErrorContains(t, err, "entropy exhausted")

	_, err = newTestVault(t).Encrypt("", "sk-test-key")
	assert.Error(t, err)

	_, err = newTestVault(t).Encrypt("user-1", "")
	assert.Error(t, err)
}

func TestHint(t *testing.T) {
	assert.Equal(t, "3456", Hint("sk-or-v1-abcdef123456"))
	assert.Equal(t, "3456", Hint("  sk-or-v1-abcdef123456\n"))
	assert.Equal(t, "****", Hint("short"))
}
