// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/MadsRC/llmledger"
	"github.com/MadsRC/llmledger/internal/api"
	"github.com/MadsRC/llmledger/internal/api/auth"
	"github.com/MadsRC/llmledger/internal/keyvault"
	"github.com/MadsRC/llmledger/internal/ledger"
	"github.com/MadsRC/llmledger/internal/memory"
	"github.com/MadsRC/llmledger/internal/monitoring"
	"github.com/MadsRC/llmledger/internal/postgres"
	"github.com/MadsRC/llmledger/internal/services"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v3"
)

// stores bundles the repositories of one storage backend
type stores struct {
	users      llmledger.UserRepository
	records    llmledger.UsageRecordRepository
	aggregates llmledger.UsageAggregateRepository
	catalog    llmledger.ModelCatalogRepository
	keys       llmledger.ProviderKeyRepository
	audit      llmledger.AuditRepository
	closers    []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, logger *slog.Logger, c *cli.Command) (*stores, error) {
	switch c.String("storage") {
	case "memory":
		logger.Warn("Using in-memory storage, usage is lost on restart")
		store := memory.NewStore()
		return &stores{
			users:      store,
			records:    store,
			aggregates: store,
			catalog:    store,
			keys:       store,
			audit:      store,
		}, nil
	case "postgres":
		return openPostgres(ctx, logger, c)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", c.String("storage"))
	}
}

func openPostgres(ctx context.Context, logger *slog.Logger, c *cli.Command) (*stores, error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, errors.New("--database-url is required for postgres storage")
	}

	logger.Info("Connecting to database")
	dbPool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s := &stores{closers: []func(){dbPool.Close}}

	if err := dbPool.Ping(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("Database connection established")

	if err := postgres.RunMigrations(logger, dbURL); err != nil {
		s.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	userRepo, err := postgres.NewUserRepository(
		postgres.WithUserRepositoryLogger(logger),
		postgres.WithUserRepositoryDb(dbPool),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create user repository: %w", err)
	}
	usageRepo, err := postgres.NewUsageRepository(
		postgres.WithUsageRepositoryLogger(logger),
		postgres.WithUsageRepositoryDb(dbPool),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create usage repository: %w", err)
	}
	catalogRepo, err := postgres.NewCatalogRepository(
		postgres.WithCatalogRepositoryLogger(logger),
		postgres.WithCatalogRepositoryDb(dbPool),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create catalog repository: %w", err)
	}
	keyRepo, err := postgres.NewProviderKeyRepository(
		postgres.WithProviderKeyRepositoryLogger(logger),
		postgres.WithProviderKeyRepositoryDb(dbPool),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create provider key repository: %w", err)
	}
	auditRepo, err := postgres.NewAuditRepository(
		postgres.WithAuditRepositoryLogger(logger),
		postgres.WithAuditRepositoryDb(dbPool),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create audit repository: %w", err)
	}

	cacheTTL := c.Duration("cache-ttl")
	cachedUsers := postgres.NewCachedUserRepository(userRepo, cacheTTL)
	cachedCatalog := postgres.NewCachedModelCatalog(catalogRepo, cacheTTL)
	s.closers = append(s.closers, cachedUsers.Close, cachedCatalog.Close)

	s.users = cachedUsers
	s.records = usageRepo
	s.aggregates = usageRepo
	s.catalog = cachedCatalog
	s.keys = keyRepo
	s.audit = auditRepo
	return s, nil
}

func runServer(ctx context.Context, c *cli.Command) error {
	logger := newLogger(c.Bool("debug"))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokens, err := auth.ParseStaticTokens(c.StringSlice("api-token"))
	if err != nil {
		return err
	}
	quotas, err := parseQuotas(c.StringSlice("quota"))
	if err != nil {
		return err
	}
	thresholds, err := parseThresholds(c.String("quota-thresholds"))
	if err != nil {
		return err
	}

	metricsManager, err := monitoring.NewManager(ctx, monitoring.Config{
		ServiceName:    "llmledger",
		ServiceVersion: version,
		OTLPEndpoint:   c.String("otlp-endpoint"),
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to set up metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := metricsManager.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to flush metrics", "error", err)
		}
	}()
	metrics := metricsManager.GetLedgerMetrics()

	st, err := openStores(ctx, logger, c)
	if err != nil {
		return err
	}
	defer st.Close()

	l, err := ledger.NewLedger(
		ledger.WithLedgerLogger(logger),
		ledger.WithLedgerRecordRepository(st.records),
		ledger.WithLedgerAggregateRepository(st.aggregates),
		ledger.WithLedgerUserRepository(st.users),
		ledger.WithLedgerModelCatalog(st.catalog),
		ledger.WithLedgerMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create ledger: %w", err)
	}

	quotaOpts := []services.QuotaMonitorOption{
		services.WithQuotaMonitorLogger(logger),
		services.WithQuotaMonitorMetrics(metrics),
	}
	if len(thresholds) > 0 {
		quotaOpts = append(quotaOpts, services.WithQuotaThresholds(thresholds...))
	}
	for period, quota := range quotas {
		quotaOpts = append(quotaOpts, services.WithQuota(period, quota))
	}
	quotaMonitor := services.NewQuotaMonitor(l, quotaOpts...)
	defer quotaMonitor.Close()

	serverOpts := []api.ServerOption{
		api.WithServerLogger(logger),
		api.WithServerAddr(c.String("listen")),
		api.WithServerLedger(l),
		api.WithServerQuotaMonitor(quotaMonitor),
		api.WithServerUserRepository(st.users),
		api.WithServerCatalogRepository(st.catalog),
		api.WithServerAuditRepository(st.audit),
		api.WithServerTokenAuthenticator(auth.NewTokenAuthenticator(tokens...)),
		api.WithServerAllowedOrigins(c.StringSlice("cors-origin")...),
		api.WithServerRateLimit(int(c.Int("rate-limit"))),
	}

	if masterKey := c.String("master-key"); masterKey != "" {
		vault, err := keyvault.New(masterKey)
		if err != nil {
			return fmt.Errorf("failed to open key vault: %w", err)
		}
		serverOpts = append(serverOpts, api.WithServerProviderKeys(services.NewProviderKeyService(st.keys, vault,
			services.WithProviderKeyServiceLogger(logger),
			services.WithProviderKeyServiceAudit(st.audit),
		)))
	} else {
		logger.Warn("No master key configured, provider key storage is disabled")
	}

	server, err := api.NewServer(serverOpts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if interval := c.Duration("reconcile-interval"); interval > 0 {
		scheduler := services.NewScheduler(l,
			services.WithSchedulerLogger(logger),
			services.WithSchedulerInterval(interval),
			services.WithSchedulerAudit(st.audit),
			services.WithSchedulerMetrics(metrics),
		)
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	if err := server.Start(ctx); err != nil {
		return err
	}
	logger.Info("Server shutdown complete")
	return nil
}
