// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/LeeDigitalWorks/dirsync/pkg/logger"
	"github.com/LeeDigitalWorks/dirsync/pkg/utils"
)

var rootCmd = &cobra.Command{
	Use:   "dirsync",
	Short: "dirsync - LDAP directory reconciliation",
	Long: `dirsync keeps a local identity database in line with an authoritative
LDAP directory. Directory-owned attributes are created, updated and removed
to match the directory; locally-owned attributes are never touched.`,
	PersistentPreRun: initializeCommand,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&utils.ConfigurationFileDirectory, "config_dir", ".", "Directory for configuration files")
	rootCmd.PersistentFlags().String("log_level", "info", "Log level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log_format", logger.FormatJSON, "Log output format (json, console)")
}

// initializeCommand loads dirsync.toml and binds the running command's flags
// so FlagLoader falls back to env and file values.
func initializeCommand(cmd *cobra.Command, args []string) {
	utils.LoadConfiguration("dirsync", false)
	viper.BindPFlags(cmd.Flags())

	level := NewFlagLoader(cmd).String("log_level")
	if lvl, err := zerolog.ParseLevel(level); err == nil && lvl != zerolog.NoLevel {
		logger.SetLevel(lvl)
	}
	if err := logger.SetFormat(NewFlagLoader(cmd).String("log_format")); err != nil {
		logger.Warn().Err(err).Msg("keeping JSON log output")
	}
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
