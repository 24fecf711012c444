// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/LeeDigitalWorks/dirsync/pkg/compression"
	"github.com/LeeDigitalWorks/dirsync/pkg/directory"
	"github.com/LeeDigitalWorks/dirsync/pkg/logger"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Save the directory to a snapshot file",
	Long: `Fetch every identity from the configured directory and write it to a JSON
snapshot that --snapshot_file can replay later. Output ending in .zst, .lz4
or .s2 is compressed.

Example:
  dirsync snapshot --ldap_url ldaps://ldap.example.edu:636 --out people.json.zst
  dirsync plan --snapshot_file people.json.zst`,
	Run: runSnapshot,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)

	f := snapshotCmd.Flags()
	f.String("out", "", "Snapshot file to write (required)")
	addSyncFlags(f)
}

func runSnapshot(cmd *cobra.Command, args []string) {
	out, _ := cmd.Flags().GetString("out")
	syncOpts := loadSyncOpts(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := saveSnapshot(ctx, syncOpts, out)
	if err != nil {
		logger.Fatal().Err(err).Msg("snapshot failed")
	}

	size := "?"
	if st, err := os.Stat(out); err == nil {
		size = humanize.IBytes(uint64(st.Size()))
	}
	logger.Info().
		Str("path", out).
		Int("records", n).
		Str("size", size).
		Str("compression", compression.FromPath(out).String()).
		Msg("snapshot written")
}

// saveSnapshot fetches the directory under the configured fetch timeout and
// writes it to out. It returns the number of records written.
func saveSnapshot(ctx context.Context, opts SyncOpts, out string) (int, error) {
	if out == "" {
		return 0, errors.New("--out is required")
	}
	if opts.SnapshotFile != "" && opts.SnapshotFile == out {
		return 0, errors.New("--out must differ from --snapshot_file")
	}

	reader, err := buildReader(opts)
	if err != nil {
		return 0, err
	}

	if opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.FetchTimeout)
		defer cancel()
	}
	records, err := reader.FetchAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch directory: %w", err)
	}
	if err := directory.WriteSnapshot(out, records); err != nil {
		return 0, err
	}
	return len(records), nil
}
