// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/LeeDigitalWorks/dirsync/pkg/coordinator"
	"github.com/LeeDigitalWorks/dirsync/pkg/logger"
	"github.com/LeeDigitalWorks/dirsync/pkg/reconcile"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one reconciliation and print its summary",
	Long: `Run a single manual reconciliation against the configured directory and
identity store. Interrupting the command stops dispatching new records;
records already in flight commit and the summary is still recorded.

Exits non-zero if the run failed or another run holds the lock.`,
	Run: runOnce,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what a run would change without writing anything",
	Run:   runPlan,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)

	runCmd.Flags().Bool("json", false, "Print the run summary as JSON")
	addSyncFlags(runCmd.Flags())

	planCmd.Flags().Bool("json", false, "Print the plan as JSON")
	addSyncFlags(planCmd.Flags())
}

func runOnce(cmd *cobra.Command, args []string) {
	syncOpts := loadSyncOpts(cmd)
	asJSON, _ := cmd.Flags().GetBool("json")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := buildSyncDeps(ctx, syncOpts, true, true)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize reconciler")
	}
	defer deps.Close()

	summary, runErr := deps.newCoordinator(syncOpts).Run(ctx, reconcile.TriggerManual)

	var already *coordinator.AlreadyRunningError
	if errors.As(runErr, &already) {
		deps.Close()
		logger.Fatal().Err(runErr).Msg("reconciliation not started")
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			logger.Error().Err(err).Msg("failed to encode summary")
		}
	} else {
		printSummary(out, summary)
	}

	if runErr != nil {
		deps.Close()
		logger.Fatal().Err(runErr).Msg("reconciliation failed")
	}
}

func runPlan(cmd *cobra.Command, args []string) {
	syncOpts := loadSyncOpts(cmd)
	asJSON, _ := cmd.Flags().GetBool("json")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := buildSyncDeps(ctx, syncOpts, false, false)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize reconciler")
	}
	defer deps.Close()

	plan, err := deps.newCoordinator(syncOpts).Preview(ctx)
	if err != nil {
		deps.Close()
		logger.Fatal().Err(err).Msg("failed to compute plan")
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(plan); err != nil {
			logger.Error().Err(err).Msg("failed to encode plan")
		}
		return
	}
	printPlan(out, plan)
}
