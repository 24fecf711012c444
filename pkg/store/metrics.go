// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeeDigitalWorks/dirsync/pkg/debug"
)

// Metrics for store operations
var (
	opDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dirsync_store_op_duration_seconds",
			Help:    "Duration of identity store operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"backend", "operation", "status"},
	)

	opTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirsync_store_ops_total",
			Help: "Total number of identity store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	connectionsInUse = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dirsync_store_connections_in_use",
			Help: "Number of store connections currently in use",
		},
		[]string{"backend"},
	)
)

func init() {
	debug.Registry().MustRegister(opDuration, opTotal, connectionsInUse)
}

// Observe records the outcome of one store operation started at start.
func Observe(backend, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	opDuration.WithLabelValues(backend, operation, status).Observe(time.Since(start).Seconds())
	opTotal.WithLabelValues(backend, operation, status).Inc()
}

// SetConnectionsInUse reports pool usage for a backend.
func SetConnectionsInUse(backend string, n int) {
	connectionsInUse.WithLabelValues(backend).Set(float64(n))
}
