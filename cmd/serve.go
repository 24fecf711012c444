// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"

	"github.com/LeeDigitalWorks/dirsync/pkg/coordinator"
	"github.com/LeeDigitalWorks/dirsync/pkg/debug"
	"github.com/LeeDigitalWorks/dirsync/pkg/logger"
	"github.com/LeeDigitalWorks/dirsync/pkg/reconcile"
	"github.com/LeeDigitalWorks/dirsync/pkg/store"
)

// ServeOpts holds configuration for the long-running reconciler.
//
// # Port Configuration
//
// The server uses two ports:
//   - admin_port (default 8070): sync trigger and status API (/v1/sync/...)
//   - debug_port (default 8075): metrics, health, readiness (/ready runs a
//     store ping for SQL backends) and pprof
type ServeOpts struct {
	IP        string
	AdminPort int
	DebugPort int

	Interval   time.Duration
	Jitter     float64
	RunOnStart bool

	PlanCacheTTL    time.Duration
	ShutdownTimeout time.Duration
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run reconciliation on a schedule",
	Long: `Start the dirsync server that:
- Reconciles the local identity store with the directory every interval
- Accepts manual runs on POST /v1/sync/run (409 while a run is active)
- Reports status on GET /v1/sync/status and dry runs on GET /v1/sync/plan
- Exports Prometheus metrics on the debug port
`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.String("ip", "0.0.0.0", "IP address to bind to")
	f.Int("admin_port", 8070, "Admin HTTP port for the sync API")
	f.Int("debug_port", 8075, "Debug HTTP port (metrics, pprof)")
	f.Duration("interval", time.Hour, "Time between scheduled runs")
	f.Float64("jitter", 0.1, "Fraction of the interval runs are spread by")
	f.Bool("run_on_start", true, "Run once immediately at startup")
	f.Duration("plan_cache_ttl", 30*time.Second, "How long GET /v1/sync/plan results are reused (0 = always fetch)")
	f.Duration("shutdown_timeout", 30*time.Second, "Time to wait for an in-flight run on shutdown")
	addSyncFlags(f)
}

func loadServeOpts(cmd *cobra.Command) ServeOpts {
	f := NewFlagLoader(cmd)
	return ServeOpts{
		IP:              f.String("ip"),
		AdminPort:       f.Int("admin_port"),
		DebugPort:       f.Int("debug_port"),
		Interval:        f.Duration("interval"),
		Jitter:          f.Float64("jitter"),
		RunOnStart:      f.Bool("run_on_start"),
		PlanCacheTTL:    f.Duration("plan_cache_ttl"),
		ShutdownTimeout: f.Duration("shutdown_timeout"),
	}
}

func runServe(cmd *cobra.Command, args []string) {
	opts := loadServeOpts(cmd)
	syncOpts := loadSyncOpts(cmd)

	debug.SetNotReady()

	deps, err := buildSyncDeps(cmd.Context(), syncOpts, true, true)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize reconciler")
	}
	defer deps.Close()

	coord := deps.newCoordinator(syncOpts)
	if p, ok := deps.store.(store.Pinger); ok {
		debug.AddReadyCheck("store", p.Ping)
	}

	logger.Info().
		Str("store", string(syncOpts.StoreDriver)).
		Dur("interval", opts.Interval).
		Int("grace_cycles", syncOpts.MissingGraceCycles).
		Bool("distributed_lock", deps.locker != nil).
		Msg("Starting dirsync server")

	// Manual runs inherit runCtx through the admin server, so shutdown can
	// cancel them the same way it cancels scheduled ones.
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	debugServer := startHTTPServer(context.Background(), debug.GetMux(), opts.IP, opts.DebugPort)
	adminServer := startHTTPServer(runCtx, adminMux(coord, opts.PlanCacheTTL), opts.IP, opts.AdminPort)

	scheduler := coordinator.NewScheduler(coord, coordinator.SchedulerConfig{
		Interval:   opts.Interval,
		Jitter:     opts.Jitter,
		RunOnStart: opts.RunOnStart,
		OnFailure:  reportFailedRun,
	})
	go func() {
		if err := scheduler.Start(runCtx); err != nil {
			logger.Error().Err(err).Msg("scheduler exited")
		}
	}()

	debug.SetReady()
	waitForShutdown()
	debug.SetNotReady()

	logger.Info().Msg("Shutting down dirsync server")

	// Stop dispatching new records; in-flight records commit and the run
	// still writes its summary before the store is closed.
	cancelRuns()
	if err := drainRuns(scheduler, coord, opts.ShutdownTimeout); err != nil {
		logger.Warn().Err(err).Dur("timeout", opts.ShutdownTimeout).Msg("in-flight run did not finish before shutdown timeout")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	adminServer.Shutdown(ctx)
	debugServer.Shutdown(ctx)
	logger.Info().Msg("dirsync server stopped")
}

// adminMux mounts the sync API next to a plain health endpoint.
func adminMux(coord *coordinator.Coordinator, planCacheTTL time.Duration) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/v1/sync/", coordinator.NewHandler(coord, coordinator.WithPlanCache(planCacheTTL, nil)))
	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	return mux
}

// reportFailedRun forwards scheduled run failures to Sentry.
func reportFailedRun(summary *reconcile.RunSummary, err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		if summary != nil {
			scope.SetTag("run_id", summary.RunID)
			scope.SetTag("status", string(summary.Status))
			scope.SetContext("run", sentry.Context{
				"created":   summary.Created,
				"updated":   summary.Updated,
				"deleted":   summary.Deleted,
				"skipped":   len(summary.SkippedErrors),
				"cancelled": summary.Cancelled,
			})
		}
		var dirErr *coordinator.DirectoryUnavailableError
		var storeErr *coordinator.StorageUnavailableError
		switch {
		case errors.As(err, &dirErr):
			scope.SetTag("failure", "directory_unavailable")
		case errors.As(err, &storeErr):
			scope.SetTag("failure", "storage_unavailable")
		}
		sentry.CaptureException(err)
	})
}

// drainRuns stops the scheduler and waits for any run, scheduled or manual,
// to finish recording its summary.
func drainRuns(scheduler *coordinator.Scheduler, coord *coordinator.Coordinator, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
	if err := coord.Wait(ctx); err != nil {
		return fmt.Errorf("wait for run: %w", err)
	}
	return nil
}

// startHTTPServer serves handler with every request context derived from base.
func startHTTPServer(base context.Context, handler http.Handler, ip string, port int) *http.Server {
	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", addr).Msg("failed to create HTTP listener")
	}

	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	go func() {
		logger.Info().Str("http_addr", addr).Msg("Starting HTTP server")
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()
	return httpServer
}

func waitForShutdown() {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	<-stopChan
}
