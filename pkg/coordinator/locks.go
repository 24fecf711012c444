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

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/LeeDigitalWorks/dirsync/pkg/logger"
)

var (
	// ErrLockHeld is returned by TryLock when another holder owns the lock.
	ErrLockHeld = errors.New("run lock held")
	// ErrLockLost is the cause handed to onLost when the lock lapses while
	// a run still holds it.
	ErrLockLost = errors.New("run lock lost")
)

// Locker grants exclusive ownership of reconciliation runs.
type Locker interface {
	// TryLock acquires the lock without waiting. It returns ErrLockHeld
	// when the lock is taken. If ownership lapses before release, onLost
	// is called with ErrLockLost; it may be nil. release must be called
	// exactly once.
	TryLock(ctx context.Context, onLost context.CancelCauseFunc) (release func(), err error)
}

// LocalLocker is an in-process lock.
type LocalLocker struct {
	held atomic.Bool
}

var _ Locker = (*LocalLocker)(nil)

// TryLock never calls onLost; an in-process lock cannot lapse.
func (l *LocalLocker) TryLock(ctx context.Context, onLost context.CancelCauseFunc) (func(), error) {
	if !l.held.CompareAndSwap(false, true) {
		return nil, ErrLockHeld
	}
	var once sync.Once
	return func() { once.Do(func() { l.held.Store(false) }) }, nil
}

// Held reports whether the lock is currently taken.
func (l *LocalLocker) Held() bool {
	return l.held.Load()
}

// RedisLockConfig configures the distributed run lock.
type RedisLockConfig struct {
	// Addr is the Redis server address (e.g., "localhost:6379").
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// Key is the lock key (default "dirsync:run-lock").
	Key string `mapstructure:"key"`

	// TTL bounds how long a crashed holder keeps the lock. A live holder
	// extends it every TTL/3.
	TTL time.Duration `mapstructure:"ttl"`
}

// DefaultRedisLockConfig returns sensible defaults.
func DefaultRedisLockConfig(addr string) RedisLockConfig {
	return RedisLockConfig{
		Addr: addr,
		Key:  "dirsync:run-lock",
		TTL:  30 * time.Second,
	}
}

// RedisLocker is a single-instance Redis lock shared by every replica
// pointed at the same server.
type RedisLocker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

var _ Locker = (*RedisLocker)(nil)

// unlockScript deletes the key only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript refreshes the TTL only if the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// NewRedisLocker connects to Redis and verifies the connection.
func NewRedisLocker(cfg RedisLockConfig) (*RedisLocker, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisLockerWithClient(client, cfg), nil
}

// NewRedisLockerWithClient creates a locker with an existing Redis client.
func NewRedisLockerWithClient(client *redis.Client, cfg RedisLockConfig) *RedisLocker {
	if cfg.Key == "" {
		cfg.Key = "dirsync:run-lock"
	}
	if cfg.TTL < time.Second {
		cfg.TTL = 30 * time.Second
	}
	return &RedisLocker{client: client, key: cfg.Key, ttl: cfg.TTL}
}

func (l *RedisLocker) TryLock(ctx context.Context, onLost context.CancelCauseFunc) (func(), error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.keepalive(token, done, onLost)
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(done)
			wg.Wait()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := unlockScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
				logger.Warn().Err(err).Str("key", l.key).Msg("failed to release redis run lock")
			}
		})
	}
	return release, nil
}

func (l *RedisLocker) keepalive(token string, done <-chan struct{}, onLost context.CancelCauseFunc) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := extendScript.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int64()
			cancel()
			switch {
			case err != nil:
				logger.Warn().Err(err).Str("key", l.key).Msg("failed to extend redis run lock")
			case n == 0:
				logger.Error().Str("key", l.key).Msg("redis run lock lost")
				if onLost != nil {
					onLost(ErrLockLost)
				}
				return
			}
		}
	}
}

// Close closes the Redis connection.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
