// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LeeDigitalWorks/dirsync/pkg/logger"
	"github.com/LeeDigitalWorks/dirsync/pkg/reconcile"
)

// RedisSink appends summaries to a Redis stream.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

var _ Sink = (*RedisSink)(nil)

// RedisConfig configures the Redis sink.
type RedisConfig struct {
	// Addr is the Redis server address (e.g., "localhost:6379").
	Addr string

	// Password is the Redis password (optional).
	Password string

	// DB is the Redis database number (default 0).
	DB int

	// Stream is the stream key (default "dirsync:runs").
	Stream string

	// MaxLen trims the stream to roughly this many entries (default 10000).
	MaxLen int64

	// DialTimeout is the connection timeout (default 5s).
	DialTimeout time.Duration

	// WriteTimeout is the write timeout (default 3s).
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig(addr string) RedisConfig {
	return RedisConfig{
		Addr:         addr,
		Stream:       "dirsync:runs",
		MaxLen:       10000,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(cfg RedisConfig) (*RedisSink, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "dirsync:runs"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Str("stream", cfg.Stream).
		Msg("redis audit sink connected")

	return &RedisSink{client: client, stream: cfg.Stream, maxLen: cfg.MaxLen}, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Record(ctx context.Context, summary *reconcile.RunSummary) (err error) {
	start := time.Now()
	defer func() { observe("redis", start, err) }()

	data, err := Encode(summary)
	if err != nil {
		return err
	}

	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: s.maxLen > 0,
		Values: map[string]any{
			"run_id":  summary.RunID,
			"status":  string(summary.Status),
			"summary": data,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("redis xadd: %w", err)
	}

	logger.Debug().Str("stream", s.stream).Str("id", id).Str("run_id", summary.RunID).Msg("recorded run summary to redis")
	return nil
}

// Close closes the Redis connection.
func (s *RedisSink) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
