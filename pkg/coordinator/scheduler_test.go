// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/dirsync/pkg/reconcile"
)

type fakeRunner struct {
	calls atomic.Int32
	err   error
}

func (r *fakeRunner) Run(ctx context.Context, trigger reconcile.Trigger) (*reconcile.RunSummary, error) {
	r.calls.Add(1)
	summary := &reconcile.RunSummary{Trigger: trigger, Status: reconcile.StatusCompleted}
	if r.err != nil {
		summary.Status = reconcile.StatusFailed
	}
	return summary, r.err
}

func startScheduler(t *testing.T, s *Scheduler) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(context.Background()) }()
	return errCh
}

func TestNewScheduler_Defaults(t *testing.T) {
	s := NewScheduler(&fakeRunner{}, SchedulerConfig{})
	assert.Equal(t, time.Hour, s.config.Interval)
	assert.Equal(t, 0.1, s.config.Jitter)
}

func TestScheduler_RunOnStart(t *testing.T) {
	r := &fakeRunner{}
	s := NewScheduler(r, SchedulerConfig{Interval: time.Hour, RunOnStart: true})

	errCh := startScheduler(t, s)
	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	require.NoError(t, <-errCh)
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestScheduler_Ticks(t *testing.T) {
	r := &fakeRunner{}
	s := NewScheduler(r, SchedulerConfig{Interval: 20 * time.Millisecond})

	errCh := startScheduler(t, s)
	require.Eventually(t, func() bool { return r.calls.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	require.NoError(t, <-errCh)
}

func TestScheduler_StartTwice(t *testing.T) {
	s := NewScheduler(&fakeRunner{}, SchedulerConfig{Interval: time.Hour})

	errCh := startScheduler(t, s)
	require.Eventually(t, s.running.Load, time.Second, 5*time.Millisecond)

	assert.Error(t, s.Start(context.Background()))

	s.Stop()
	require.NoError(t, <-errCh)
}

func TestScheduler_StopsWithContext(t *testing.T) {
	s := NewScheduler(&fakeRunner{}, SchedulerConfig{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_OnFailure(t *testing.T) {
	boom := &DirectoryUnavailableError{Err: errors.New("ldap down")}
	r := &fakeRunner{err: boom}

	var (
		mu       sync.Mutex
		failures []error
	)
	s := NewScheduler(r, SchedulerConfig{
		Interval:   time.Hour,
		RunOnStart: true,
		OnFailure: func(summary *reconcile.RunSummary, err error) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, reconcile.StatusFailed, summary.Status)
			failures = append(failures, err)
		},
	})

	errCh := startScheduler(t, s)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(failures) == 1
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	require.NoError(t, <-errCh)
	assert.ErrorIs(t, failures[0], boom)
}

func TestScheduler_AlreadyRunningIsNotAFailure(t *testing.T) {
	r := &fakeRunner{err: &AlreadyRunningError{Holder: "redis"}}
	var failures atomic.Int32
	s := NewScheduler(r, SchedulerConfig{
		Interval:   time.Hour,
		RunOnStart: true,
		OnFailure:  func(*reconcile.RunSummary, error) { failures.Add(1) },
	})

	errCh := startScheduler(t, s)
	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	require.NoError(t, <-errCh)
	assert.Zero(t, failures.Load())
}
