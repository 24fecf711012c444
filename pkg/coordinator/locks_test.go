// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/dirsync/pkg/reconcile"
	"github.com/LeeDigitalWorks/dirsync/pkg/store/memory"
)

func newTestRedisLocker(t *testing.T, mr *miniredis.Miniredis, ttl time.Duration) *RedisLocker {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRedisLockerWithClient(client, RedisLockConfig{Key: "dirsync:test-lock", TTL: ttl})
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRedisLockConfig_Defaults(t *testing.T) {
	cfg := DefaultRedisLockConfig("localhost:6379")
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Equal(t, "dirsync:run-lock", cfg.Key)
	assert.Equal(t, 30*time.Second, cfg.TTL)

	_, err := NewRedisLocker(RedisLockConfig{})
	assert.Error(t, err)
}

func TestRedisLocker_Exclusive(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newTestRedisLocker(t, mr, 10*time.Second)
	b := newTestRedisLocker(t, mr, 10*time.Second)
	ctx := context.Background()

	release, err := a.TryLock(ctx, nil)
	require.NoError(t, err)
	assert.True(t, mr.Exists("dirsync:test-lock"))
	assert.Equal(t, 10*time.Second, mr.TTL("dirsync:test-lock"))

	_, err = b.TryLock(ctx, nil)
	assert.ErrorIs(t, err, ErrLockHeld)

	release()
	release()
	assert.False(t, mr.Exists("dirsync:test-lock"))

	releaseB, err := b.TryLock(ctx, nil)
	require.NoError(t, err)
	releaseB()
}

func TestRedisLocker_ReleaseKeepsForeignLock(t *testing.T) {
	mr := miniredis.RunT(t)
	l := newTestRedisLocker(t, mr, 10*time.Second)

	release, err := l.TryLock(context.Background(), nil)
	require.NoError(t, err)

	// Our lock expired and another replica took it.
	require.NoError(t, mr.Set("dirsync:test-lock", "someone-else"))
	release()

	got, err := mr.Get("dirsync:test-lock")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLocker_Keepalive(t *testing.T) {
	mr := miniredis.RunT(t)
	l := newTestRedisLocker(t, mr, 1500*time.Millisecond)

	release, err := l.TryLock(context.Background(), nil)
	require.NoError(t, err)
	defer release()

	mr.FastForward(time.Second)
	require.Less(t, mr.TTL("dirsync:test-lock"), time.Second)

	require.Eventually(t, func() bool {
		return mr.TTL("dirsync:test-lock") > time.Second
	}, 5*time.Second, 50*time.Millisecond)
}

func TestRedisLocker_LostLockCancels(t *testing.T) {
	mr := miniredis.RunT(t)
	l := newTestRedisLocker(t, mr, 1500*time.Millisecond)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	release, err := l.TryLock(ctx, cancel)
	require.NoError(t, err)
	defer release()

	// Our lock expired and another replica took it.
	require.NoError(t, mr.Set("dirsync:test-lock", "someone-else"))

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("lost lock did not cancel the holder")
	}
	assert.ErrorIs(t, context.Cause(ctx), ErrLockLost)
}

func TestRedisLocker_ServerDown(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	l := newTestRedisLocker(t, mr, 10*time.Second)
	mr.Close()

	_, err := l.TryLock(context.Background(), nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockHeld)
}

func TestRun_LostLockCancelsRun(t *testing.T) {
	mr := miniredis.RunT(t)
	s := memory.New()
	sink := &captureSink{}
	reader := newGatedReader(record("alice", 1001))
	c := New(reader, s, Config{}, WithLocker(newTestRedisLocker(t, mr, 1500*time.Millisecond)), WithAudit(sink))

	done := make(chan error, 1)
	var summary *reconcile.RunSummary
	go func() {
		var err error
		summary, err = c.Run(context.Background(), reconcile.TriggerScheduled)
		done <- err
	}()
	<-reader.entered

	require.NoError(t, mr.Set("dirsync:test-lock", "someone-else"))

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run kept going after losing the lock")
	}
	assert.ErrorIs(t, err, ErrLockLost)
	require.NotNil(t, summary)
	assert.Equal(t, reconcile.StatusCancelled, summary.Status)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 0, s.Len())
	assert.Len(t, sink.recorded(), 1)
	assert.Equal(t, StateIdle, c.Status().State)

	// The foreign holder keeps its lock.
	got, err := mr.Get("dirsync:test-lock")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRun_RedisLockAcrossCoordinators(t *testing.T) {
	mr := miniredis.RunT(t)
	s := memory.New()
	sink := &captureSink{}

	reader := newGatedReader(record("alice", 1001))
	a := New(reader, s, Config{}, WithLocker(newTestRedisLocker(t, mr, 10*time.Second)), WithAudit(sink))
	b := New(staticReader(record("alice", 1001)), s, Config{}, WithLocker(newTestRedisLocker(t, mr, 10*time.Second)), WithAudit(sink))

	done := make(chan error, 1)
	go func() {
		_, err := a.Run(context.Background(), reconcile.TriggerScheduled)
		done <- err
	}()
	<-reader.entered

	before := rejected(t, reconcile.TriggerScheduled, "redis")
	summary, err := b.Run(context.Background(), reconcile.TriggerScheduled)
	assert.Nil(t, summary)
	var already *AlreadyRunningError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, "redis", already.Holder)
	assert.Equal(t, before+1, rejected(t, reconcile.TriggerScheduled, "redis"))

	// b never started a run.
	assert.Equal(t, StateIdle, b.Status().State)
	assert.Nil(t, b.Status().LastRun)
	assert.Equal(t, 0, s.Len())

	close(reader.proceed)
	require.NoError(t, <-done)
	assert.Equal(t, 1, s.Len())
	assert.Len(t, sink.recorded(), 1)
	assert.False(t, mr.Exists("dirsync:test-lock"))

	// With the lock free, b runs and finds nothing to do.
	summary, err = b.Run(context.Background(), reconcile.TriggerScheduled)
	require.NoError(t, err)
	assert.Zero(t, summary.Changed())
}
