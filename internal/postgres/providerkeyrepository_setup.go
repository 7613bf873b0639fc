// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"log/slog"
)

// ProviderKeyRepository stores encrypted BYOK provider keys
type ProviderKeyRepository struct {
	options *providerKeyRepositoryOptions
}

// NewProviderKeyRepository creates a new [ProviderKeyRepository].
func NewProviderKeyRepository(options ...ProviderKeyRepositoryOption) (*ProviderKeyRepository, error) {
	opts := defaultProviderKeyRepositoryOptions
	for _, opt := range GlobalProviderKeyRepositoryOptions {
		opt.apply(&opts)
	}
	for _, opt := range options {
		opt.apply(&opts)
	}

	return &ProviderKeyRepository{
		options: &opts,
	}, nil
}

type providerKeyRepositoryOptions struct {
	Logger *slog.Logger
	Db     PgxPoolInterface
}

var defaultProviderKeyRepositoryOptions = providerKeyRepositoryOptions{
	Logger: slog.Default(),
}

// GlobalProviderKeyRepositoryOptions is a list of [ProviderKeyRepositoryOption]s that are applied to all [ProviderKeyRepository]s.
var GlobalProviderKeyRepositoryOptions []ProviderKeyRepositoryOption

// ProviderKeyRepositoryOption is an option for configuring a [ProviderKeyRepository].
type ProviderKeyRepositoryOption interface {
	apply(*providerKeyRepositoryOptions)
}

// funcProviderKeyRepositoryOption is a [ProviderKeyRepositoryOption] that calls a function.
// It is used to wrap a function, so it satisfies the [ProviderKeyRepositoryOption] interface.
type funcProviderKeyRepositoryOption struct {
	f func(*providerKeyRepositoryOptions)
}

func (fdo *funcProviderKeyRepositoryOption) apply(opts *providerKeyRepositoryOptions) {
	fdo.f(opts)
}

func newFuncProviderKeyRepositoryOption(f func(*providerKeyRepositoryOptions)) *funcProviderKeyRepositoryOption {
	return &funcProviderKeyRepositoryOption{
		f: f,
	}
}

// WithProviderKeyRepositoryLogger returns a [ProviderKeyRepositoryOption] that uses the provided logger.
func WithProviderKeyRepositoryLogger(logger *slog.Logger) ProviderKeyRepositoryOption {
	return newFuncProviderKeyRepositoryOption(func(opts *providerKeyRepositoryOptions) {
		opts.Logger = logger
	})
}

// WithProviderKeyRepositoryDb returns a [ProviderKeyRepositoryOption] that uses the provided database connection.
func WithProviderKeyRepositoryDb(db PgxPoolInterface) ProviderKeyRepositoryOption {
	return newFuncProviderKeyRepositoryOption(func(opts *providerKeyRepositoryOptions) {
		opts.Db = db
	})
}
