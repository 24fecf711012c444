// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/LeeDigitalWorks/dirsync/cmd"
	"github.com/LeeDigitalWorks/dirsync/pkg/env"
)

func main() {
	err := sentry.Init(sentry.ClientOptions{
		Release:          "dirsync@" + cmd.Version,
		Environment:      env.Env,
		SampleRate:       1.0,
		EnableTracing:    false,
		AttachStacktrace: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "sentry.Init: %v", err)
	}
	// Flush buffered events before the program terminates.
	defer sentry.Flush(2 * time.Second)

	cmd.Execute()
}
