// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"log/slog"
)

// AuditRepository stores the administrative audit trail
type AuditRepository struct {
	options *auditRepositoryOptions
}

// NewAuditRepository creates a new [AuditRepository].
func NewAuditRepository(options ...AuditRepositoryOption) (*AuditRepository, error) {
	opts := defaultAuditRepositoryOptions
	for _, opt := range GlobalAuditRepositoryOptions {
		opt.apply(&opts)
	}
	for _, opt := range options {
		opt.apply(&opts)
	}

	return &AuditRepository{
		options: &opts,
	}, nil
}

type auditRepositoryOptions struct {
	Logger *slog.Logger
	Db     PgxPoolInterface
}

var defaultAuditRepositoryOptions = auditRepositoryOptions{
	Logger: slog.Default(),
}

// GlobalAuditRepositoryOptions is a list of [AuditRepositoryOption]s that are applied to all [AuditRepository]s.
var GlobalAuditRepositoryOptions []AuditRepositoryOption

// AuditRepositoryOption is an option for configuring a [AuditRepository].
type AuditRepositoryOption interface {
	apply(*auditRepositoryOptions)
}

// funcAuditRepositoryOption is a [AuditRepositoryOption] that calls a function.
// It is used to wrap a function, so it satisfies the [AuditRepositoryOption] interface.
type funcAuditRepositoryOption struct {
	f func(*auditRepositoryOptions)
}

func (fdo *funcAuditRepositoryOption) apply(opts *auditRepositoryOptions) {
	fdo.f(opts)
}

func newFuncAuditRepositoryOption(f func(*auditRepositoryOptions)) *funcAuditRepositoryOption {
	return &funcAuditRepositoryOption{
		f: f,
	}
}

// WithAuditRepositoryLogger returns a [AuditRepositoryOption] that uses the provided logger.
func WithAuditRepositoryLogger(logger *slog.Logger) AuditRepositoryOption {
	return newFuncAuditRepositoryOption(func(opts *auditRepositoryOptions) {
		opts.Logger = logger
	})
}

// WithAuditRepositoryDb returns a [AuditRepositoryOption] that uses the provided database connection.
func WithAuditRepositoryDb(db PgxPoolInterface) AuditRepositoryOption {
	return newFuncAuditRepositoryOption(func(opts *auditRepositoryOptions) {
		opts.Db = db
	})
}
