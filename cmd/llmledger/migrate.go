// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/MadsRC/llmledger/internal/postgres"
	"github.com/urfave/cli/v3"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage the database schema",
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if c.String("database-url") == "" {
				return ctx, errors.New("--database-url is required")
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				Action: func(ctx context.Context, c *cli.Command) error {
					logger := newLogger(c.Bool("debug"))
					return postgres.RunMigrations(logger, c.String("database-url"))
				},
			},
			{
				Name:  "down",
				Usage: "Roll back migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "steps",
						Value: 1,
						Usage: "Number of migrations to roll back, 0 rolls back everything",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					logger := newLogger(c.Bool("debug"))
					return postgres.RollbackMigrations(logger, c.String("database-url"), int(c.Int("steps")))
				},
			},
			{
				Name:  "status",
				Usage: "Print the current schema version",
				Action: func(ctx context.Context, c *cli.Command) error {
					v, dirty, err := postgres.MigrationVersion(c.String("database-url"))
					if err != nil {
						return err
					}
					fmt.Printf("version %d (dirty: %t)\n", v, dirty)
					return nil
				},
			},
		},
	}
}
