// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeeDigitalWorks/dirsync/pkg/debug"
)

var (
	recordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dirsync",
			Subsystem: "executor",
			Name:      "records_total",
			Help:      "Records applied by the executor, by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	recordDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dirsync",
			Subsystem: "executor",
			Name:      "record_duration_seconds",
			Help:      "Time spent applying a single record",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"op"},
	)

	inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dirsync",
			Subsystem: "executor",
			Name:      "in_flight",
			Help:      "Storage operations currently in flight",
		},
	)
)

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
	outcomeFatal   = "fatal"
)

func init() {
	debug.Registry().MustRegister(recordsTotal, recordDuration, inFlight)
}
