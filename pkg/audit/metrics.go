// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeeDigitalWorks/dirsync/pkg/debug"
)

var (
	recordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dirsync",
			Subsystem: "audit",
			Name:      "records_total",
			Help:      "Run summaries written per sink and status",
		},
		[]string{"sink", "status"},
	)

	recordDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dirsync",
			Subsystem: "audit",
			Name:      "record_duration_seconds",
			Help:      "Time to write one run summary to a sink",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"sink"},
	)
)

func init() {
	debug.Registry().MustRegister(recordsTotal, recordDuration)
}
