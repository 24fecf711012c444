// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package env reports the deployment environment from DIRSYNC_ENV.
// Production refuses settings that only make sense on a workstation, such
// as the in-memory identity store.
package env

import (
	"os"
	"strings"
)

const (
	Local      = "local"
	Staging    = "staging"
	Production = "production"
	Testing    = "testing"
)

// Env is the current environment name, lower case. Unknown names are kept
// as given and behave like neither local nor production.
var Env = parse(os.Getenv("DIRSYNC_ENV"))

func parse(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "", "dev", "development":
		return Local
	case "prod":
		return Production
	}
	return v
}

func IsLocal() bool {
	return Env == Local
}

func IsProduction() bool {
	return Env == Production
}

func IsTesting() bool {
	return Env == Testing
}

// Override sets Env for the duration of a test and returns the restore
// function.
func Override(name string) (restore func()) {
	prev := Env
	Env = parse(name)
	return func() { Env = prev }
}
