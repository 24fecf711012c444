// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var (
	ConfigurationFileDirectory string
)

// LoadConfiguration merges the named config file into viper and enables
// DIRSYNC_* environment overrides, with nested keys joined by "_"
// (store.dsn -> DIRSYNC_STORE_DSN). It reports whether a file was loaded.
func LoadConfiguration(configFileName string, required bool) bool {
	viper.SetConfigName(configFileName)
	if ConfigurationFileDirectory != "" {
		viper.AddConfigPath(ResolvePath(ConfigurationFileDirectory))
	}
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.dirsync")
	viper.AddConfigPath("/usr/local/etc/dirsync/")
	viper.AddConfigPath("/etc/dirsync/")
	viper.SetEnvPrefix("dirsync")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			if required {
				log.Fatal().Msgf("Config file not found: %s", configFileName)
			}
			log.Info().Msgf("Config file not found: %s", configFileName)
			return false
		}

		if required {
			log.Fatal().Err(err).Msgf("Failed to load required config file: %s", configFileName)
		}
		log.Warn().Err(err).Msgf("Failed to load config file: %s", configFileName)
		return false
	}
	log.Info().Msgf("Loaded config file: %s", viper.ConfigFileUsed())

	return true
}
