// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/LeeDigitalWorks/dirsync/pkg/logger"
	"github.com/LeeDigitalWorks/dirsync/pkg/reconcile"
)

const clickhouseSchema = `
	CREATE TABLE IF NOT EXISTS dirsync_runs (
		run_id                  String,
		run_trigger             LowCardinality(String),
		status                  LowCardinality(String),
		started_at              DateTime64(3),
		completed_at            DateTime64(3),
		total_directory_records UInt32,
		created_count           UInt32,
		updated_count           UInt32,
		marked_count            UInt32,
		deleted_count           UInt32,
		skipped_count           UInt32,
		cancelled               Bool,
		error                   String,
		summary                 String
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(started_at)
	ORDER BY (started_at, run_id)
`

// ClickHouseSink appends summaries to a MergeTree table for long-term
// run analytics.
type ClickHouseSink struct {
	conn driver.Conn
}

var _ Sink = (*ClickHouseSink)(nil)

// NewClickHouseSink connects, pings and ensures the table exists.
func NewClickHouseSink(dsn string, dialTimeout time.Duration) (*ClickHouseSink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse DSN: %w", err)
	}
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	opts.DialTimeout = dialTimeout

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, clickhouseSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	logger.Info().Str("dsn", maskDSN(dsn)).Msg("clickhouse audit sink connected")
	return &ClickHouseSink{conn: conn}, nil
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) Record(ctx context.Context, summary *reconcile.RunSummary) (err error) {
	start := time.Now()
	defer func() { observe("clickhouse", start, err) }()

	data, err := Encode(summary)
	if err != nil {
		return err
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO dirsync_runs (
			run_id, run_trigger, status, started_at, completed_at,
			total_directory_records, created_count, updated_count, marked_count,
			deleted_count, skipped_count, cancelled, error, summary
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	if err := batch.Append(
		summary.RunID,
		string(summary.Trigger),
		string(summary.Status),
		summary.StartedAt,
		summary.CompletedAt,
		uint32(summary.TotalDirectoryRecords),
		uint32(summary.Created),
		uint32(summary.Updated),
		uint32(summary.Marked),
		uint32(summary.Deleted),
		uint32(len(summary.SkippedErrors)),
		summary.Cancelled,
		summary.Error,
		string(data),
	); err != nil {
		return fmt.Errorf("append run summary: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}

// maskDSN hides the password in a DSN for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
