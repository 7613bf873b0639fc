// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package ledger

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MadsRC/llmledger"
	"github.com/MadsRC/llmledger/internal/monitoring"
)

// Ledger records usage and answers dashboard queries over it
type Ledger struct {
	options *ledgerOptions

	// writes is held shared from a record insert until its aggregates are
	// updated, and exclusively by rebuilds.
	writes sync.RWMutex
}

// NewLedger creates a new [Ledger]. Record, aggregate and user repositories
// are required.
func NewLedger(options ...LedgerOption) (*Ledger, error) {
	opts := defaultLedgerOptions
	for _, opt := range GlobalLedgerOptions {
		opt.apply(&opts)
	}
	for _, opt := range options {
		opt.apply(&opts)
	}

	if opts.Records == nil {
		return nil, errors.New("ledger: usage record repository is required")
	}
	if opts.Aggregates == nil {
		return nil, errors.New("ledger: usage aggregate repository is required")
	}
	if opts.Users == nil {
		return nil, errors.New("ledger: user repository is required")
	}

	return &Ledger{
		options: &opts,
	}, nil
}

type ledgerOptions struct {
	Logger     *slog.Logger
	Records    llmledger.UsageRecordRepository
	Aggregates llmledger.UsageAggregateRepository
	Users      llmledger.UserRepository
	Catalog    llmledger.ModelCatalog
	Metrics    *monitoring.LedgerMetrics
	Now        func() time.Time
}

var defaultLedgerOptions = ledgerOptions{
	Logger: slog.Default(),
	Now:    time.Now,
}

// GlobalLedgerOptions is a list of [LedgerOption]s that are applied to all [Ledger]s.
var GlobalLedgerOptions []LedgerOption

// LedgerOption is an option for configuring a [Ledger].
type LedgerOption interface {
	apply(*ledgerOptions)
}

// funcLedgerOption is a [LedgerOption] that calls a function.
// It is used to wrap a function, so it satisfies the [LedgerOption] interface.
type funcLedgerOption struct {
	f func(*ledgerOptions)
}

func (fdo *funcLedgerOption) apply(opts *ledgerOptions) {
	fdo.f(opts)
}

func newFuncLedgerOption(f func(*ledgerOptions)) *funcLedgerOption {
	return &funcLedgerOption{
		f: f,
	}
}

// WithLedgerLogger returns a [LedgerOption] that uses the provided logger.
func WithLedgerLogger(logger *slog.Logger) LedgerOption {
	return newFuncLedgerOption(func(opts *ledgerOptions) {
		opts.Logger = logger
	})
}

// WithLedgerRecordRepository returns a [LedgerOption] that stores usage records in repo.
func WithLedgerRecordRepository(repo llmledger.UsageRecordRepository) LedgerOption {
	return newFuncLedgerOption(func(opts *ledgerOptions) {
		opts.Records = repo
	})
}

// WithLedgerAggregateRepository returns a [LedgerOption] that stores usage aggregates in repo.
func WithLedgerAggregateRepository(repo llmledger.UsageAggregateRepository) LedgerOption {
	return newFuncLedgerOption(func(opts *ledgerOptions) {
		opts.Aggregates = repo
	})
}

// WithLedgerUserRepository returns a [LedgerOption] that resolves user profiles from repo.
func WithLedgerUserRepository(repo llmledger.UserRepository) LedgerOption {
	return newFuncLedgerOption(func(opts *ledgerOptions) {
		opts.Users = repo
	})
}

// WithLedgerModelCatalog returns a [LedgerOption] that checks upstream costs
// against the catalog's pricing.
func WithLedgerModelCatalog(catalog llmledger.ModelCatalog) LedgerOption {
	return newFuncLedgerOption(func(opts *ledgerOptions) {
		opts.Catalog = catalog
	})
}

// WithLedgerMetrics returns a [LedgerOption] that reports to metrics.
func WithLedgerMetrics(metrics *monitoring.LedgerMetrics) LedgerOption {
	return newFuncLedgerOption(func(opts *ledgerOptions) {
		opts.Metrics = metrics
	})
}

// WithLedgerClock returns a [LedgerOption] that reads the current time from now.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return newFuncLedgerOption(func(opts *ledgerOptions) {
		opts.Now = now
	})
}
