// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeeDigitalWorks/dirsync/pkg/debug"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dirsync",
			Name:      "runs_total",
			Help:      "Reconciliation runs by trigger and final status",
		},
		[]string{"trigger", "status"},
	)

	runsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dirsync",
			Name:      "runs_rejected_total",
			Help:      "Run requests rejected because a run was already active",
		},
		[]string{"trigger", "holder"},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dirsync",
			Name:      "run_duration_seconds",
			Help:      "Wall time of reconciliation runs",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	fetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dirsync",
			Name:      "directory_fetch_duration_seconds",
			Help:      "Time to fetch a directory snapshot",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	directoryRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dirsync",
			Name:      "directory_records",
			Help:      "Records in the last fetched directory snapshot",
		},
	)

	planRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "dirsync",
			Name:      "plan_records",
			Help:      "Records in the last computed plan by operation",
		},
		[]string{"op"},
	)

	runActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dirsync",
			Name:      "run_active",
			Help:      "1 while a reconciliation run is in progress",
		},
	)

	lastRunTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "dirsync",
			Name:      "last_run_timestamp_seconds",
			Help:      "Completion time of the last run by status",
		},
		[]string{"status"},
	)
)

func init() {
	debug.Registry().MustRegister(
		runsTotal,
		runsRejectedTotal,
		runDuration,
		fetchDuration,
		directoryRecords,
		planRecords,
		runActive,
		lastRunTimestamp,
	)
}
