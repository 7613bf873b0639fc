// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MadsRC/llmledger"
	"github.com/MadsRC/llmledger/internal/api/auth"
	"github.com/MadsRC/llmledger/internal/ledger"
	"github.com/MadsRC/llmledger/internal/services"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Server exposes the ledger over HTTP
type Server struct {
	options    *serverOptions
	router     chi.Router
	httpServer *http.Server
	auditor    *services.Auditor
}

// NewServer creates a new [Server].
func NewServer(options ...ServerOption) (*Server, error) {
	opts := defaultServerOptions
	for _, opt := range GlobalServerOptions {
		opt.apply(&opts)
	}
	for _, opt := range options {
		opt.apply(&opts)
	}

	if opts.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		options: &opts,
		router:  chi.NewRouter(),
		auditor: services.NewAuditor(opts.AuditRepository, opts.Logger, opts.Now),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr: opts.Addr,
		// h2c so the gateway can keep a single HTTP/2 connection without TLS
		Handler:      h2c.NewHandler(s.router, &http2.Server{}),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.logRequests)
	if len(s.options.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins:   s.options.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           7200,
		}).Handler)
	}

	// Health endpoint - no authentication required
	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		if s.options.TokenAuthenticator.Enabled() {
			r.Use(auth.NewBearerMiddleware(s.options.TokenAuthenticator, s.options.Logger, s.unauthorized).Authenticate)
		} else {
			s.options.Logger.Warn("No API tokens configured, the API is unauthenticated")
		}
		if s.options.RateLimit > 0 {
			r.Use(httprate.Limit(s.options.RateLimit, time.Minute,
				httprate.WithKeyFuncs(principalOrIP),
				httprate.WithLimitHandler(s.rateLimited)))
		}

		r.Post("/usage", s.handleRecordUsage)
		r.Post("/usage/activity", s.handleRecordActivity)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Put("/", s.handleSyncUser)
			r.Get("/usage", s.handleUserUsage)
			r.Get("/usage/breakdown", s.handleUserUsageBreakdown)
			r.Get("/usage/totals", s.handleUserPeriodTotals)
			r.Get("/usage/alerts", s.handleUserQuotaAlerts)
			r.Get("/provider-keys", s.handleListProviderKeys)
			r.Put("/provider-keys/{provider}", s.handlePutProviderKey)
			r.Delete("/provider-keys/{provider}", s.handleDeleteProviderKey)
		})

		r.Get("/system/usage", s.handleSystemUsage)
		r.Get("/system/top-users", s.handleTopUsers)
		r.Post("/system/aggregates/rebuild", s.handleRebuild)

		r.Get("/models", s.handleListModels)
		r.Put("/models/*", s.handleUpsertModel)

		r.Get("/audit", s.handleListAudit)
	})
}

// principalOrIP keys rate limits by the authenticated caller, falling back to
// the client address for unauthenticated deployments.
func principalOrIP(r *http.Request) (string, error) {
	if p := auth.PrincipalFromContext(r.Context()); p != nil {
		return "token:" + p.Name, nil
	}
	return httprate.KeyByIP(r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := s.options.Now()
		next.ServeHTTP(ww, r)
		s.options.Logger.Debug("Handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", s.options.Now().Sub(start),
			"requestID", chimiddleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"ok"}`); err != nil {
		s.options.Logger.Error("Failed to write health response", "error", err)
	}
}

// Handler returns the root handler, including h2c support
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.options.Logger.Info("Starting API server", "addr", s.options.Addr)

	listener, err := net.Listen("tcp", s.options.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.options.Addr, err)
	}

	serverErrors := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.WithoutCancel(ctx))
	}
}

// Shutdown drains in-flight requests for up to 30 seconds.
func (s *Server) Shutdown(ctx context.Context) error {
	s.options.Logger.Info("Shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.options.Logger.Error("Failed to gracefully shutdown server", "error", err)
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.options.Logger.Info("API server stopped")
	return nil
}

type serverOptions struct {
	Logger             *slog.Logger
	Addr               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	Ledger             *ledger.Ledger
	QuotaMonitor       *services.QuotaMonitor
	ProviderKeys       *services.ProviderKeyService
	UserRepository     llmledger.UserRepository
	CatalogRepository  llmledger.ModelCatalogRepository
	AuditRepository    llmledger.AuditRepository
	TokenAuthenticator *auth.TokenAuthenticator
	AllowedOrigins     []string
	RateLimit          int
	Now                func() time.Time
}

var defaultServerOptions = serverOptions{
	Logger:       slog.Default(),
	Addr:         ":8080",
	ReadTimeout:  30 * time.Second,
	WriteTimeout: 30 * time.Second,
	IdleTimeout:  120 * time.Second,
	Now:          time.Now,
}

// GlobalServerOptions is a list of [ServerOption]s that are applied to all [Server]s.
var GlobalServerOptions []ServerOption

// ServerOption is an option for configuring a [Server].
type ServerOption interface {
	apply(*serverOptions)
}

// funcServerOption is a [ServerOption] that calls a function.
// It is used to wrap a function, so it satisfies the [ServerOption] interface.
type funcServerOption struct {
	f func(*serverOptions)
}

func (fdo *funcServerOption) apply(opts *serverOptions) {
	fdo.f(opts)
}

func newFuncServerOption(f func(*serverOptions)) *funcServerOption {
	return &funcServerOption{
		f: f,
	}
}

// WithServerLogger returns a [ServerOption] that uses the provided logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return newFuncServerOption(func(opts *serverOptions) {
		opts.Logger = logger
	})
}

// WithServerAddr returns a [ServerOption] that sets the listen address.
func WithServerAddr(addr string) ServerOption {
	return newFuncServerOption(func(opts *serverOptions) {
		opts.Addr = addr
	})
}

// WithServerTimeouts returns a [ServerOption] that sets the read, write and idle timeouts.
func WithServerTimeouts(read, write, idle time.Duration) ServerOption {
	return newFuncServerOption(func(opts *serverOptions) {
		opts.ReadTimeout = read
		opts.WriteTimeout = write
		opts.IdleTimeout = idle
	})
}

// WithServerLedger returns a [ServerOption] that uses the provided ledger.
func WithServerLedger(l *ledger.Ledger) ServerOption {
	return newFuncServerOption(func(opts *serverOptions) {
		opts.Ledger = l
	})
}

// WithServerQuotaMonitor returns a [ServerOption] that enables quota alert queries.
func WithServerQuotaMonitor(monitor *services.QuotaMonitor) ServerOption {
	return newFuncServerOption(func(opts *serverOptions) {
		opts.QuotaMonitor = monitor
	})
}

// WithServerProviderKeys returns a [ServerOption] that enables the provider key endpoints.
func WithServerProviderKeys(keys *services.ProviderKeyService) ServerOption {
	return newFuncServerOption(func(opts *serverOptions) {
		opts.ProviderKeys = keys
	})
}

// WithServerUserRepository returns a [ServerOption] that uses the provided UserRepository.
func WithServerUserRepository(repository llmledger.UserRepository) ServerOption {
	return newFuncServerOption(func(opts *serverOptions) {
		opts.UserRepository = repository
	})
}

// WithServerCatalogRepository returns a [ServerOption] that uses the provided ModelCatalogRepository.
func WithServerCatalogRepository(repository llmledger.ModelCatalogRepository) ServerOption {
	return newFuncServerOption(func(opts *serverOptions) {
		opts.CatalogRepository = repository
	})
}

// WithServerAuditRepository returns a [ServerOption] that uses the provided AuditRepository.
func WithServerAuditRepository(repository llmledger.AuditRepository) ServerOption {
	return newFuncServerOption(func(opts *serverOptions) {
		opts.AuditRepository = repository
	})
}

// WithServerTokenAuthenticator returns a [ServerOption] that protects /v1 with bearer tokens.
func WithServerTokenAuthenticator(authenticator *auth.TokenAuthenticator) ServerOption {
	return newFuncServerOption(func(opts *serverOptions) {
		opts.TokenAuthenticator = authenticator
	})
}

// WithServerAllowedOrigins returns a [ServerOption] that enables CORS for origins.
func WithServerAllowedOrigins(origins ...string) ServerOption {
	return newFuncServerOption(func(opts *serverOptions) {
		opts.AllowedOrigins = origins
	})
}

// WithServerRateLimit returns a [ServerOption] that limits each caller to
// requestsPerMinute requests. Zero disables limiting.
func WithServerRateLimit(requestsPerMinute int) ServerOption {
	return newFuncServerOption(func(opts *serverOptions) {
		opts.RateLimit = requestsPerMinute
	})
}

// WithServerClock returns a [ServerOption] that reads the current time from now.
func WithServerClock(now func() time.Time) ServerOption {
	return newFuncServerOption(func(opts *serverOptions) {
		opts.Now = now
	})
}
