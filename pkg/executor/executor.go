// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package executor applies a reconciliation plan to the local identity store.
//
// Phases run strictly in order: creates, updates, marks, deletes. Within a
// phase records are applied concurrently by a bounded pool sized to the
// store's connection capacity. A failure on one record is recorded and the
// remaining records continue; only a store-wide outage stops the run.
package executor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/LeeDigitalWorks/dirsync/pkg/identity"
	"github.com/LeeDigitalWorks/dirsync/pkg/logger"
	"github.com/LeeDigitalWorks/dirsync/pkg/reconcile"
	"github.com/LeeDigitalWorks/dirsync/pkg/store"
)

// Config holds executor configuration
type Config struct {
	// Concurrency is the number of records applied at once within a phase.
	// Zero means half the store's capacity. It never exceeds the capacity.
	Concurrency int

	// RateLimit caps storage operations per second. Zero disables it.
	RateLimit float64

	// Burst is the limiter's burst size. Defaults to max(1, RateLimit).
	Burst int
}

// Executor applies plans against one store.
type Executor struct {
	store       store.Store
	concurrency int
	limiter     *rate.Limiter
}

// New creates an executor for s.
func New(s store.Store, cfg Config) *Executor {
	e := &Executor{
		store:       s,
		concurrency: Concurrency(cfg.Concurrency, s.Capacity()),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = max(1, int(cfg.RateLimit))
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return e
}

// Concurrency resolves the worker count for a store of the given capacity.
func Concurrency(requested, capacity int) int {
	capacity = max(1, capacity)
	n := requested
	if n <= 0 {
		n = capacity / 2
	}
	return min(max(1, n), capacity)
}

// Workers returns the resolved worker count.
func (e *Executor) Workers() int {
	return e.concurrency
}

// Result is the outcome of applying a plan.
type Result struct {
	Created int
	Updated int
	Marked  int
	Deleted int

	// Errors holds the records that failed to apply, sorted by key.
	Errors []reconcile.RecordError

	// Cancelled is set when ctx ended before every phase was dispatched.
	Cancelled bool

	// Fatal is the first store-wide failure. When set, dispatch stopped.
	Fatal error
}

// Fill copies the result into a run summary. Plan errors come first,
// followed by apply errors.
func (r *Result) Fill(s *reconcile.RunSummary, plan *reconcile.Plan) {
	s.Created = r.Created
	s.Updated = r.Updated
	s.Marked = r.Marked
	s.Deleted = r.Deleted
	s.Cancelled = r.Cancelled

	skipped := make([]reconcile.RecordError, 0, len(plan.Errors)+len(r.Errors))
	skipped = append(skipped, plan.Errors...)
	skipped = append(skipped, r.Errors...)
	s.SkippedErrors = skipped
}

// phase is one homogeneous batch of storage operations.
type phase struct {
	op    reconcile.Op
	keys  []string
	apply func(ctx context.Context, i int) error
}

// Apply executes the plan. It returns once every dispatched operation has
// finished, even when ctx is cancelled mid-phase.
func (e *Executor) Apply(ctx context.Context, plan *reconcile.Plan) *Result {
	res := &Result{}
	if plan == nil {
		return res
	}

	phases := []phase{
		{
			op:   reconcile.OpCreate,
			keys: recordKeys(plan.Creates),
			apply: func(ctx context.Context, i int) error {
				_, err := e.store.Create(ctx, plan.Creates[i])
				return err
			},
		},
		{
			op:   reconcile.OpUpdate,
			keys: updateKeys(plan.Updates),
			apply: func(ctx context.Context, i int) error {
				u := plan.Updates[i]
				_, err := e.store.PatchAuthoritative(ctx, u.Key, u.Patch)
				return err
			},
		},
		{
			op:   reconcile.OpMarkMissing,
			keys: plan.Marks,
			apply: func(ctx context.Context, i int) error {
				return e.store.MarkMissing(ctx, plan.Marks[i])
			},
		},
		{
			op:   reconcile.OpDelete,
			keys: plan.Deletes,
			apply: func(ctx context.Context, i int) error {
				return e.store.CascadeDelete(ctx, plan.Deletes[i])
			},
		},
	}

	log := logger.Ctx(ctx)
	for _, p := range phases {
		if len(p.keys) == 0 {
			continue
		}
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}

		start := time.Now()
		done, cancelled := e.runPhase(ctx, p, res)
		e.count(res, p.op, done)

		log.Debug().
			Str("phase", string(p.op)).
			Int("records", len(p.keys)).
			Int("applied", done).
			Dur("duration", time.Since(start)).
			Msg("phase finished")

		if cancelled {
			res.Cancelled = true
			break
		}
		if res.Fatal != nil {
			break
		}
	}

	sort.SliceStable(res.Errors, func(i, j int) bool {
		return res.Errors[i].Key < res.Errors[j].Key
	})
	return res
}

// runPhase dispatches every record of one phase and waits for them. It
// reports how many succeeded and whether ctx stopped dispatch early.
func (e *Executor) runPhase(ctx context.Context, p phase, res *Result) (int, bool) {
	var (
		mu        sync.Mutex
		done      int
		stop      atomic.Bool
		late      atomic.Bool
		cancelled bool
	)

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)

	for i, key := range p.keys {
		if stop.Load() {
			break
		}
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				cancelled = true
				break
			}
		}

		g.Go(func() error {
			// A slot may free up only after ctx ended or the store failed.
			if stop.Load() {
				return nil
			}
			if ctx.Err() != nil {
				late.Store(true)
				return nil
			}

			// The transaction for a record is never interrupted by a
			// shutdown; cancellation only stops further dispatch.
			opCtx := context.WithoutCancel(ctx)

			inFlight.Inc()
			start := time.Now()
			err := p.apply(opCtx, i)
			recordDuration.WithLabelValues(string(p.op)).Observe(time.Since(start).Seconds())
			inFlight.Dec()

			mu.Lock()
			defer mu.Unlock()

			if err == nil {
				done++
				recordsTotal.WithLabelValues(string(p.op), outcomeSuccess).Inc()
				return nil
			}

			applyErr := &reconcile.RecordApplyError{Key: key, Op: p.op, Err: err}
			res.Errors = append(res.Errors, reconcile.NewRecordError(applyErr))

			if errors.Is(err, store.ErrUnavailable) {
				recordsTotal.WithLabelValues(string(p.op), outcomeFatal).Inc()
				stop.Store(true)
				if res.Fatal == nil {
					res.Fatal = applyErr
				}
				logger.Ctx(ctx).Error().Err(err).Str("key", key).Str("op", string(p.op)).Msg("store unavailable, stopping run")
				return nil
			}

			recordsTotal.WithLabelValues(string(p.op), outcomeError).Inc()
			logger.Ctx(ctx).Warn().Err(err).Str("key", key).Str("op", string(p.op)).Msg("record skipped")
			return nil
		})
	}

	// Workers never return an error; failures are collected per record.
	_ = g.Wait()
	return done, cancelled || late.Load()
}

func (e *Executor) count(res *Result, op reconcile.Op, n int) {
	switch op {
	case reconcile.OpCreate:
		res.Created += n
	case reconcile.OpUpdate:
		res.Updated += n
	case reconcile.OpMarkMissing:
		res.Marked += n
	case reconcile.OpDelete:
		res.Deleted += n
	}
}

func recordKeys(recs []identity.DirectoryRecord) []string {
	keys := make([]string, len(recs))
	for i, r := range recs {
		keys[i] = r.Key
	}
	return keys
}

func updateKeys(updates []reconcile.Update) []string {
	keys := make([]string, len(updates))
	for i, u := range updates {
		keys[i] = u.Key
	}
	return keys
}
