// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package keyvault encrypts users' own provider API keys at rest. Every user
// gets an AES-256-GCM key derived from the master key, so a ciphertext only
// opens for the user it was sealed for.
package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrMasterKeyMissing is returned when no master key was configured
	ErrMasterKeyMissing = errors.New("master key not configured")
	// ErrInvalidCiphertext is returned for malformed ciphertexts
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrDecryptionFailed is returned when a ciphertext fails authentication
	ErrDecryptionFailed = errors.New("decryption failed")
)

const (
	keyInfo     = "llmledger-provider-key"
	minKeyBytes = 32
	hintLength  = 4
)

// Vault seals and opens provider keys
type Vault struct {
	masterKey []byte
	rand      io.Reader
}

// VaultOption configures a [Vault]
type VaultOption func(*Vault)

// WithRandom replaces the nonce source
func WithRandom(r io.Reader) VaultOption {
	return func(v *Vault) { v.rand = r }
}

// New creates a vault from a base64 encoded master key of at least 32 bytes
func New(masterKey string, opts ...VaultOption) (*Vault, error) {
	if masterKey == "" {
		return nil, ErrMasterKeyMissing
	}
	key, err := base64.StdEncoding.DecodeString(masterKey)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) < minKeyBytes {
		return nil, fmt.Errorf("master key must be at least %d bytes, got %d", minKeyBytes, len(key))
	}

	v := &Vault{masterKey: key, rand: rand.Reader}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// GenerateMasterKey returns a fresh random master key, base64 encoded
func GenerateMasterKey() (string, error) {
	key := make([]byte, minKeyBytes)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate master key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func (v *Vault) aeadFor(userID string) (cipher.AEAD, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	reader := hkdf.New(sha256.New, v.masterKey, []byte(userID), []byte(keyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive user key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext for userID and returns base64(nonce || ciphertext).
// The user ID is also bound as additional data.
func (v *Vault) Encrypt(userID, plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("plaintext is empty")
	}
	aead, err := v.aeadFor(userID)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(v.rand, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), []byte(userID))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt for the same userID
func (v *Vault) Decrypt(userID, ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode failed", ErrInvalidCiphertext)
	}
	aead, err := v.aeadFor(userID)
	if err != nil {
		return "", err
	}
	nonceSize := aead.NonceSize()
	if len(data) < nonceSize+1+aead.Overhead() {
		return "", fmt.Errorf("%w: data too short", ErrInvalidCiphertext)
	}
	plaintext, err := aead.Open(nil, data[:nonceSize], data[nonceSize:], []byte(userID))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrDecryptionFailed, err.Error())
	}
	return string(plaintext), nil
}

// Hint returns the trailing characters of a key for display. Short keys are
// fully masked.
func Hint(plaintext string) string {
	plaintext = strings.TrimSpace(plaintext)
	if len(plaintext) <= 2*hintLength {
		return strings.Repeat("*", hintLength)
	}
	return plaintext[len(plaintext)-hintLength:]
}
