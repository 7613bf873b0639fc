// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"log/slog"
)

// CatalogRepository stores the local copy of the model catalog
type CatalogRepository struct {
	options *catalogRepositoryOptions
}

// NewCatalogRepository creates a new [CatalogRepository].
func NewCatalogRepository(options ...CatalogRepositoryOption) (*CatalogRepository, error) {
	opts := defaultCatalogRepositoryOptions
	for _, opt := range GlobalCatalogRepositoryOptions {
		opt.apply(&opts)
	}
	for _, opt := range options {
		opt.apply(&opts)
	}

	return &CatalogRepository{
		options: &opts,
	}, nil
}

type catalogRepositoryOptions struct {
	Logger *slog.Logger
	Db     PgxPoolInterface
}

var defaultCatalogRepositoryOptions = catalogRepositoryOptions{
	Logger: slog.Default(),
}

// GlobalCatalogRepositoryOptions is a list of [CatalogRepositoryOption]s that are applied to all [CatalogRepository]s.
var GlobalCatalogRepositoryOptions []CatalogRepositoryOption

// CatalogRepositoryOption is an option for configuring a [CatalogRepository].
type CatalogRepositoryOption interface {
	apply(*catalogRepositoryOptions)
}

// funcCatalogRepositoryOption is a [CatalogRepositoryOption] that calls a function.
// It is used to wrap a function, so it satisfies the [CatalogRepositoryOption] interface.
type funcCatalogRepositoryOption struct {
	f func(*catalogRepositoryOptions)
}

func (fdo *funcCatalogRepositoryOption) apply(opts *catalogRepositoryOptions) {
	fdo.f(opts)
}

func newFuncCatalogRepositoryOption(f func(*catalogRepositoryOptions)) *funcCatalogRepositoryOption {
	return &funcCatalogRepositoryOption{
		f: f,
	}
}

// WithCatalogRepositoryLogger returns a [CatalogRepositoryOption] that uses the provided logger.
func WithCatalogRepositoryLogger(logger *slog.Logger) CatalogRepositoryOption {
	return newFuncCatalogRepositoryOption(func(opts *catalogRepositoryOptions) {
		opts.Logger = logger
	})
}

// WithCatalogRepositoryDb returns a [CatalogRepositoryOption] that uses the provided database connection.
func WithCatalogRepositoryDb(db PgxPoolInterface) CatalogRepositoryOption {
	return newFuncCatalogRepositoryOption(func(opts *catalogRepositoryOptions) {
		opts.Db = db
	})
}
