// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"math/rand/v2"
	"time"
)

// Jitter adds random jitter to a duration so replicas sharing a schedule
// spread out. The jitter is a fraction of the base duration.
//
// Example: Jitter(time.Hour, 0.1) returns 54m-66m (±10%)
func Jitter(base time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return base
	}
	if fraction > 1 {
		fraction = 1
	}
	// Generate jitter in range [-fraction, +fraction]
	jitterRange := float64(base) * fraction
	jitter := (rand.Float64()*2 - 1) * jitterRange
	return base + time.Duration(jitter)
}
