// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/MadsRC/llmledger"
)

// minTokenLength rejects tokens too short to resist guessing
const minTokenLength = 16

// StaticToken is a configured API token and the name of the caller holding it
type StaticToken struct {
	Name  string
	Token string
}

// ParseStaticTokens parses "name=token" pairs
func ParseStaticTokens(specs []string) ([]StaticToken, error) {
	tokens := make([]StaticToken, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		name, token, ok := strings.Cut(strings.TrimSpace(spec), "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("api token %q must have the form name=token", redact(spec))
		}
		if len(token) < minTokenLength {
			return nil, fmt.Errorf("api token for %q must be at least %d characters", name, minTokenLength)
		}
		if seen[name] {
			return nil, fmt.Errorf("api token name %q is configured twice", name)
		}
		seen[name] = true
		tokens = append(tokens, StaticToken{Name: name, Token: token})
	}
	return tokens, nil
}

func redact(spec string) string {
	if name, _, ok := strings.Cut(spec, "="); ok {
		return name + "=***"
	}
	return "***"
}

// Principal is the authenticated caller of an API request
type Principal struct {
	Name string
}

type tokenEntry struct {
	name string
	hash [sha256.Size]byte
}

// TokenAuthenticator checks bearer tokens against the configured set. Only
// digests are kept in memory.
type TokenAuthenticator struct {
	tokens []tokenEntry
}

// NewTokenAuthenticator creates a new token authenticator
func NewTokenAuthenticator(tokens ...StaticToken) *TokenAuthenticator {
	a := &TokenAuthenticator{tokens: make([]tokenEntry, 0, len(tokens))}
	for _, t := range tokens {
		a.tokens = append(a.tokens, tokenEntry{name: t.Name, hash: sha256.Sum256([]byte(t.Token))})
	}
	return a
}

// AuthenticateToken returns the principal owning token. Every configured
// token is compared so the duration does not depend on which one matched.
func (a *TokenAuthenticator) AuthenticateToken(_ context.Context, token string) (*Principal, error) {
	if len(token) < minTokenLength {
		return nil, fmt.Errorf("%w: invalid token format", llmledger.ErrUnauthorized)
	}
	presented := sha256.Sum256([]byte(token))

	var match string
	for _, t := range a.tokens {
		if subtle.ConstantTimeCompare(presented[:], t.hash[:]) == 1 {
			match = t.name
		}
	}
	if match == "" {
		return nil, fmt.Errorf("%w: invalid token", llmledger.ErrUnauthorized)
	}
	return &Principal{Name: match}, nil
}

// Enabled reports whether any token is configured
func (a *TokenAuthenticator) Enabled() bool {
	return a != nil && len(a.tokens) > 0
}

var errMissingToken = errors.New("missing Bearer token")
