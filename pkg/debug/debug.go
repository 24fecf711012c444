// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package debug serves metrics, pprof, liveness and readiness on the debug
// port.
package debug

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CheckTimeout bounds each readiness check.
const CheckTimeout = 2 * time.Second

// ReadyCheck reports why a dependency is not ready, or nil.
type ReadyCheck func(ctx context.Context) error

var (
	ready atomic.Bool

	checksMu sync.RWMutex
	checks   = make(map[string]ReadyCheck)

	// Global registry for dirsync metrics
	globalRegistry = prometheus.NewRegistry()
)

func SetReady() {
	ready.Store(true)
}

func SetNotReady() {
	ready.Store(false)
}

// AddReadyCheck registers a named dependency check run on every /ready
// request. Registering a name twice replaces the earlier check.
func AddReadyCheck(name string, check ReadyCheck) {
	checksMu.Lock()
	defer checksMu.Unlock()
	checks[name] = check
}

// RemoveReadyCheck drops a check added with AddReadyCheck.
func RemoveReadyCheck(name string) {
	checksMu.Lock()
	defer checksMu.Unlock()
	delete(checks, name)
}

// Readiness is the /ready response body.
type Readiness struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks,omitempty"`
}

// CheckReadiness runs every registered check. The process is ready only if
// SetReady has been called and every check passes.
func CheckReadiness(ctx context.Context) Readiness {
	checksMu.RLock()
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	snapshot := make(map[string]ReadyCheck, len(checks))
	for name, check := range checks {
		snapshot[name] = check
	}
	checksMu.RUnlock()
	sort.Strings(names)

	r := Readiness{Ready: ready.Load()}
	if len(names) > 0 {
		r.Checks = make(map[string]string, len(names))
	}
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, CheckTimeout)
		err := snapshot[name](checkCtx)
		cancel()
		if err != nil {
			r.Ready = false
			r.Checks[name] = err.Error()
			continue
		}
		r.Checks[name] = "ok"
	}
	return r
}

// Registry returns the Prometheus registry for dirsync metrics.
// Metrics registered here are exported on /metrics next to the Go runtime
// collectors.
func Registry() prometheus.Registerer {
	return globalRegistry
}

// Gatherer returns the registry behind Registry, for tests.
func Gatherer() prometheus.Gatherer {
	return globalRegistry
}

func GetMux() *http.ServeMux {
	mux := http.NewServeMux()

	gatherers := prometheus.Gatherers{
		prometheus.DefaultGatherer,
		globalRegistry,
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		res := CheckReadiness(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if res.Ready {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(res)
	})

	return mux
}
