// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeeDigitalWorks/dirsync/pkg/logger"
	"github.com/LeeDigitalWorks/dirsync/pkg/reconcile"
	"github.com/LeeDigitalWorks/dirsync/pkg/utils"
)

// Runner starts one reconciliation run.
type Runner interface {
	Run(ctx context.Context, trigger reconcile.Trigger) (*reconcile.RunSummary, error)
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	// Interval is the base time between runs.
	Interval time.Duration

	// Jitter spreads runs by ±Jitter*Interval so replicas do not fire
	// together. Defaults to 0.1.
	Jitter float64

	// RunOnStart triggers a run as soon as Start is called.
	RunOnStart bool

	// OnFailure, when set, is called for every run that returns an error
	// other than AlreadyRunningError.
	OnFailure func(summary *reconcile.RunSummary, err error)
}

// Scheduler triggers runs periodically.
type Scheduler struct {
	runner Runner
	config SchedulerConfig

	running  atomic.Bool
	mu       sync.Mutex
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler for r.
func NewScheduler(r Runner, config SchedulerConfig) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.Jitter == 0 {
		config.Jitter = 0.1
	}
	return &Scheduler{runner: r, config: config}
}

// Start runs the schedule until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if !s.running.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancelFn = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.cancelFn = nil
		s.running.Store(false)
		s.mu.Unlock()
		s.wg.Done()
	}()

	logger.Info().
		Dur("interval", s.config.Interval).
		Float64("jitter", s.config.Jitter).
		Bool("run_on_start", s.config.RunOnStart).
		Msg("reconciliation scheduler started")

	if s.config.RunOnStart {
		s.tick(ctx)
	}

	for {
		timer := time.NewTimer(utils.Jitter(s.config.Interval, s.config.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info().Msg("reconciliation scheduler stopped")
			return nil
		case <-timer.C:
			s.tick(ctx)
		}
	}
}

// Stop cancels the schedule and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancelFn
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) tick(ctx context.Context) {
	summary, err := s.runner.Run(ctx, reconcile.TriggerScheduled)

	var already *AlreadyRunningError
	switch {
	case err == nil:
	case errors.As(err, &already):
		logger.Info().Str("holder", already.Holder).Msg("skipping scheduled run, another run is active")
	default:
		if s.config.OnFailure != nil {
			s.config.OnFailure(summary, err)
		}
	}
}
