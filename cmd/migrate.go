// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeeDigitalWorks/dirsync/pkg/logger"
	"github.com/LeeDigitalWorks/dirsync/pkg/store"
	storesql "github.com/LeeDigitalWorks/dirsync/pkg/store/sql"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply identity store schema migrations",
	Long: `Create or upgrade the identities, role_assignments, memberships and
run_summaries tables. Only SQL store drivers need migrations; running it
again is a no-op.`,
	Run: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	f := migrateCmd.Flags()
	f.String("store_driver", string(store.DriverPostgres), "Identity store backend (postgres, cockroachdb, mysql)")
	f.String("store_dsn", "", "Identity store DSN")
	f.Duration("timeout", 5*time.Minute, "Migration timeout")
}

func runMigrate(cmd *cobra.Command, args []string) {
	f := NewFlagLoader(cmd)
	driver := store.Driver(f.NestedString("store_driver", "store.driver"))
	dsn := f.NestedString("store_dsn", "store.dsn")

	ctx, cancel := context.WithTimeout(context.Background(), f.Duration("timeout"))
	defer cancel()

	if err := migrate(ctx, driver, dsn); err != nil {
		logger.Fatal().Err(err).Str("driver", string(driver)).Msg("migration failed")
	}
	logger.Info().Str("driver", string(driver)).Msg("identity store schema is up to date")
}

func migrate(ctx context.Context, driver store.Driver, dsn string) error {
	if _, err := storesql.DialectFor(driver); err != nil {
		return fmt.Errorf("driver %q has no migrations: %w", driver, err)
	}
	if dsn == "" {
		return fmt.Errorf("store_dsn is required")
	}

	s, err := storesql.Open(ctx, storesql.DefaultConfig(dsn, driver))
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Migrate(ctx)
}
