// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/dirsync/pkg/reconcile"
	storesql "github.com/LeeDigitalWorks/dirsync/pkg/store/sql"
)

const insertRunSummary = `
	INSERT INTO run_summaries (
		run_id, run_trigger, status, started_at, completed_at,
		total_directory_records, created_count, updated_count, marked_count,
		deleted_count, skipped_count, cancelled, error, summary
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`

// SQLSink appends summaries to the run_summaries table created by the
// store migrations. It shares the store's connection pool.
type SQLSink struct {
	db      *sql.DB
	dialect storesql.Dialect
}

var _ Sink = (*SQLSink)(nil)

// NewSQLSink writes to the database behind s.
func NewSQLSink(s *storesql.Store) *SQLSink {
	return &SQLSink{db: s.DB(), dialect: s.Dialect()}
}

func (s *SQLSink) Name() string { return "sql" }

func (s *SQLSink) Record(ctx context.Context, summary *reconcile.RunSummary) (err error) {
	start := time.Now()
	defer func() { observe("sql", start, err) }()

	args, err := summaryRow(summary)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.ReplacePlaceholders(insertRunSummary), args...); err != nil {
		return fmt.Errorf("insert run summary %s: %w", summary.RunID, err)
	}
	return nil
}

// Close is a no-op; the pool belongs to the store.
func (s *SQLSink) Close() error { return nil }

// summaryRow returns the insert arguments in placeholder order.
func summaryRow(s *reconcile.RunSummary) ([]any, error) {
	data, err := Encode(s)
	if err != nil {
		return nil, err
	}
	return []any{
		s.RunID,
		string(s.Trigger),
		string(s.Status),
		s.StartedAt.UTC(),
		s.CompletedAt.UTC(),
		s.TotalDirectoryRecords,
		s.Created,
		s.Updated,
		s.Marked,
		s.Deleted,
		len(s.SkippedErrors),
		s.Cancelled,
		s.Error,
		string(data),
	}, nil
}
