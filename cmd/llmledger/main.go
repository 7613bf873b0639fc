// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"
)

const version = "0.1.0"

func main() {
	cmd := &cli.Command{
		Name:    "llmledger",
		Usage:   "Usage metering and cost attribution for LLM chat workloads",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Value:   "localhost:8080",
				Usage:   "Address for the API to listen on",
				Sources: cli.EnvVars("LLMLEDGER_LISTEN"),
			},
			&cli.StringFlag{
				Name:    "storage",
				Value:   "postgres",
				Usage:   "Storage backend, postgres or memory",
				Sources: cli.EnvVars("LLMLEDGER_STORAGE"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "PostgreSQL database connection URL",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Enable debug logging",
				Sources: cli.EnvVars("LLMLEDGER_DEBUG"),
			},
			&cli.StringSliceFlag{
				Name:    "api-token",
				Usage:   "API token as name=token; repeat for several callers",
				Sources: cli.EnvVars("LLMLEDGER_API_TOKENS"),
			},
			&cli.StringSliceFlag{
				Name:    "cors-origin",
				Usage:   "Origin allowed to call the API from a browser",
				Sources: cli.EnvVars("LLMLEDGER_CORS_ORIGINS"),
			},
			&cli.IntFlag{
				Name:    "rate-limit",
				Value:   600,
				Usage:   "Requests per minute allowed per API token, 0 disables limiting",
				Sources: cli.EnvVars("LLMLEDGER_RATE_LIMIT"),
			},
			&cli.StringFlag{
				Name:    "master-key",
				Usage:   "Base64 master key sealing provider keys; provider key storage is disabled without it",
				Sources: cli.EnvVars("LLMLEDGER_MASTER_KEY"),
			},
			&cli.StringFlag{
				Name:    "otlp-endpoint",
				Usage:   "OTLP gRPC endpoint for metrics",
				Sources: cli.EnvVars("LLMLEDGER_OTLP_ENDPOINT"),
			},
			&cli.DurationFlag{
				Name:    "reconcile-interval",
				Value:   time.Hour,
				Usage:   "How often aggregates are rebuilt from usage records, 0 disables reconciliation",
				Sources: cli.EnvVars("LLMLEDGER_RECONCILE_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "cache-ttl",
				Value:   5 * time.Minute,
				Usage:   "How long user profiles and catalog models are cached",
				Sources: cli.EnvVars("LLMLEDGER_CACHE_TTL"),
			},
			&cli.StringSliceFlag{
				Name:    "quota",
				Usage:   "Per-user quota as period:tokens=N,cost=USD, e.g. monthly:tokens=2000000,cost=25",
				Sources: cli.EnvVars("LLMLEDGER_QUOTAS"),
			},
			&cli.StringFlag{
				Name:    "quota-thresholds",
				Value:   "0.8,1.0",
				Usage:   "Quota fractions that raise alerts",
				Sources: cli.EnvVars("LLMLEDGER_QUOTA_THRESHOLDS"),
			},
		},
		Action: runServer,
		Commands: []*cli.Command{
			migrateCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("Failed to run command", "error", err)
		os.Exit(1)
	}
}

func newLogger(debug bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}
