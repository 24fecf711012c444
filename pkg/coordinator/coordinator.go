// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package coordinator runs reconciliation end to end: lock, fetch, diff,
// apply, audit. At most one run is active at a time.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LeeDigitalWorks/dirsync/pkg/audit"
	"github.com/LeeDigitalWorks/dirsync/pkg/directory"
	"github.com/LeeDigitalWorks/dirsync/pkg/executor"
	"github.com/LeeDigitalWorks/dirsync/pkg/identity"
	"github.com/LeeDigitalWorks/dirsync/pkg/logger"
	"github.com/LeeDigitalWorks/dirsync/pkg/reconcile"
	"github.com/LeeDigitalWorks/dirsync/pkg/store"
)

// State is the coordinator's lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

const (
	// DefaultFetchTimeout bounds a directory fetch.
	DefaultFetchTimeout = 2 * time.Minute

	auditTimeout = 10 * time.Second
)

// Config holds coordinator configuration
type Config struct {
	// FetchTimeout is the hard limit for fetching a directory snapshot.
	FetchTimeout time.Duration

	Reconciler reconcile.Config
	Executor   executor.Config
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	State State  `json:"state"`
	RunID string `json:"run_id,omitempty"`

	// LastOutcome is Completed or Failed for the most recent finished run.
	LastOutcome State                 `json:"last_outcome,omitempty"`
	LastRun     *reconcile.RunSummary `json:"last_run,omitempty"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLocker adds a distributed lock taken after the in-process one.
func WithLocker(l Locker) Option {
	return func(c *Coordinator) { c.distributed = l }
}

// WithAudit sets the sink every run summary is recorded to.
func WithAudit(s audit.Sink) Option {
	return func(c *Coordinator) { c.audit = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator owns the run lifecycle.
type Coordinator struct {
	reader       directory.Reader
	store        store.Store
	audit        audit.Sink
	reconciler   *reconcile.Reconciler
	executor     *executor.Executor
	fetchTimeout time.Duration

	local       LocalLocker
	distributed Locker
	now         func() time.Time

	mu          sync.RWMutex
	state       State
	runID       string
	lastOutcome State
	last        *reconcile.RunSummary
}

// New creates a coordinator reading from r and writing to s.
func New(r directory.Reader, s store.Store, cfg Config, opts ...Option) *Coordinator {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	c := &Coordinator{
		reader:       r,
		store:        s,
		audit:        audit.LogSink{},
		reconciler:   reconcile.New(cfg.Reconciler),
		executor:     executor.New(s, cfg.Executor),
		fetchTimeout: cfg.FetchTimeout,
		now:          time.Now,
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the field ownership policy in effect.
func (c *Coordinator) Policy() *identity.Policy {
	return c.reconciler.Policy()
}

// Status returns the current state and the last finished run.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		State:       c.state,
		RunID:       c.runID,
		LastOutcome: c.lastOutcome,
		LastRun:     c.last,
	}
}

// Wait blocks until no run holds the in-process lock, including a run that
// is still recording its summary. It returns ctx's error if ctx ends first.
func (c *Coordinator) Wait(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for c.local.Held() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Run performs one full reconciliation. It returns *AlreadyRunningError,
// without side effects, when another run holds the lock. Every other call
// produces a summary that is recorded to the audit sink, even when an error
// is returned alongside it.
func (c *Coordinator) Run(ctx context.Context, trigger reconcile.Trigger) (*reconcile.RunSummary, error) {
	releaseLocal, err := c.local.TryLock(ctx, nil)
	if err != nil {
		c.mu.RLock()
		active := c.runID
		c.mu.RUnlock()
		runsRejectedTotal.WithLabelValues(string(trigger), "local").Inc()
		return nil, &AlreadyRunningError{Holder: "local", RunID: active}
	}
	defer releaseLocal()

	summary := &reconcile.RunSummary{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		Status:    reconcile.StatusRunning,
		StartedAt: c.now().UTC(),
	}

	l := logger.Ctx(ctx).With().
		Str("run_id", summary.RunID).
		Str("trigger", string(trigger)).
		Logger()
	ctx = logger.WithLogger(ctx, &l)

	// Losing the distributed lock mid-run stops dispatch like a cancellation.
	ctx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)

	if c.distributed != nil {
		release, err := c.distributed.TryLock(ctx, cancelRun)
		if errors.Is(err, ErrLockHeld) {
			runsRejectedTotal.WithLabelValues(string(trigger), "redis").Inc()
			return nil, &AlreadyRunningError{Holder: "redis"}
		}
		c.begin(summary.RunID)
		if err != nil {
			return c.finish(ctx, summary, fmt.Errorf("acquire run lock: %w", err))
		}
		defer release()
	} else {
		c.begin(summary.RunID)
	}

	l.Info().Msg("reconciliation started")

	records, err := c.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			summary.Cancelled = true
			return c.finish(ctx, summary, fmt.Errorf("run cancelled: %w", context.Cause(ctx)))
		}
		return c.finish(ctx, summary, &DirectoryUnavailableError{Err: err})
	}
	summary.TotalDirectoryRecords = len(records)
	directoryRecords.Set(float64(len(records)))

	local, err := c.store.FindAll(ctx, false)
	if err != nil {
		if ctx.Err() != nil {
			summary.Cancelled = true
			return c.finish(ctx, summary, fmt.Errorf("run cancelled: %w", context.Cause(ctx)))
		}
		return c.finish(ctx, summary, &StorageUnavailableError{Err: err})
	}

	plan := c.reconciler.Diff(records, local)
	observePlan(plan)
	l.Info().
		Int("directory_records", len(records)).
		Int("local_identities", len(local)).
		Int("creates", len(plan.Creates)).
		Int("updates", len(plan.Updates)).
		Int("marks", len(plan.Marks)).
		Int("deletes", len(plan.Deletes)).
		Int("errors", len(plan.Errors)).
		Msg("plan computed")

	res := c.executor.Apply(ctx, plan)
	res.Fill(summary, plan)

	switch {
	case res.Fatal != nil:
		return c.finish(ctx, summary, &StorageUnavailableError{Err: res.Fatal})
	case res.Cancelled:
		return c.finish(ctx, summary, fmt.Errorf("run cancelled: %w", context.Cause(ctx)))
	}
	return c.finish(ctx, summary, nil)
}

// Preview fetches and diffs without taking the lock or writing anything.
func (c *Coordinator) Preview(ctx context.Context) (*reconcile.Plan, error) {
	records, err := c.fetch(ctx)
	if err != nil {
		return nil, &DirectoryUnavailableError{Err: err}
	}
	local, err := c.store.FindAll(ctx, false)
	if err != nil {
		return nil, &StorageUnavailableError{Err: err}
	}
	return c.reconciler.Diff(records, local), nil
}

type fetchResult struct {
	records []identity.DirectoryRecord
	err     error
}

// fetch enforces the fetch timeout even against a reader that ignores its
// context.
func (c *Coordinator) fetch(ctx context.Context) ([]identity.DirectoryRecord, error) {
	fctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	start := time.Now()
	defer func() { fetchDuration.Observe(time.Since(start).Seconds()) }()

	done := make(chan fetchResult, 1)
	go func() {
		records, err := c.reader.FetchAll(fctx)
		done <- fetchResult{records, err}
	}()

	select {
	case r := <-done:
		return r.records, r.err
	case <-fctx.Done():
		return nil, fmt.Errorf("fetch directory snapshot: %w", fctx.Err())
	}
}

func (c *Coordinator) begin(runID string) {
	c.mu.Lock()
	c.state = StateRunning
	c.runID = runID
	c.mu.Unlock()
	runActive.Set(1)
}

// finish closes out a run: stamps the summary, records it, and returns the
// coordinator to idle.
func (c *Coordinator) finish(ctx context.Context, summary *reconcile.RunSummary, runErr error) (*reconcile.RunSummary, error) {
	summary.CompletedAt = c.now().UTC()

	outcome := StateCompleted
	switch {
	case runErr == nil:
		summary.Status = reconcile.StatusCompleted
	case summary.Cancelled || errors.Is(runErr, context.Canceled):
		summary.Cancelled = true
		summary.Status = reconcile.StatusCancelled
		summary.Error = runErr.Error()
		outcome = StateFailed
	default:
		summary.Status = reconcile.StatusFailed
		summary.Error = runErr.Error()
		outcome = StateFailed
	}

	// The audit trail is written even when the run was cancelled.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := c.audit.Record(actx, summary); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("sink", c.audit.Name()).Msg("failed to record run summary")
	}

	runsTotal.WithLabelValues(string(summary.Trigger), string(summary.Status)).Inc()
	runDuration.Observe(summary.Duration().Seconds())
	lastRunTimestamp.WithLabelValues(string(summary.Status)).Set(float64(summary.CompletedAt.Unix()))
	runActive.Set(0)

	ev := logger.Ctx(ctx).Info()
	if runErr != nil {
		ev = logger.Ctx(ctx).Error().Err(runErr)
	}
	ev.Str("status", string(summary.Status)).
		Int("created", summary.Created).
		Int("updated", summary.Updated).
		Int("marked", summary.Marked).
		Int("deleted", summary.Deleted).
		Int("skipped", len(summary.SkippedErrors)).
		Dur("duration", summary.Duration()).
		Msg("reconciliation finished")

	c.mu.Lock()
	c.lastOutcome = outcome
	c.last = summary
	c.runID = ""
	c.state = StateIdle
	c.mu.Unlock()

	return summary, runErr
}

func observePlan(plan *reconcile.Plan) {
	planRecords.WithLabelValues(string(reconcile.OpCreate)).Set(float64(len(plan.Creates)))
	planRecords.WithLabelValues(string(reconcile.OpUpdate)).Set(float64(len(plan.Updates)))
	planRecords.WithLabelValues(string(reconcile.OpMarkMissing)).Set(float64(len(plan.Marks)))
	planRecords.WithLabelValues(string(reconcile.OpDelete)).Set(float64(len(plan.Deletes)))
}
