// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit records run summaries to append-only sinks.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/dirsync/pkg/logger"
	"github.com/LeeDigitalWorks/dirsync/pkg/reconcile"
)

// Sink persists run summaries. Implementations only ever append.
type Sink interface {
	// Name returns the sink identifier used in logs and metrics.
	Name() string

	Record(ctx context.Context, summary *reconcile.RunSummary) error

	Close() error
}

// Encode returns the JSON form every sink stores.
func Encode(summary *reconcile.RunSummary) ([]byte, error) {
	data, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("encode run summary %s: %w", summary.RunID, err)
	}
	return data, nil
}

// observe records the outcome of one Record call.
func observe(sink string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	recordsTotal.WithLabelValues(sink, status).Inc()
	recordDuration.WithLabelValues(sink).Observe(time.Since(start).Seconds())
}

// ============================================================================
// Log sink
// ============================================================================

// LogSink writes each summary as one structured log line.
type LogSink struct{}

var _ Sink = LogSink{}

func (LogSink) Name() string { return "log" }

func (LogSink) Record(ctx context.Context, s *reconcile.RunSummary) error {
	start := time.Now()

	ev := logger.Ctx(ctx).Info()
	if s.Status != reconcile.StatusCompleted {
		ev = logger.Ctx(ctx).Warn()
	}
	ev.Str("run_id", s.RunID).
		Str("trigger", string(s.Trigger)).
		Str("status", string(s.Status)).
		Int("directory_records", s.TotalDirectoryRecords).
		Int("created", s.Created).
		Int("updated", s.Updated).
		Int("marked", s.Marked).
		Int("deleted", s.Deleted).
		Int("skipped", len(s.SkippedErrors)).
		Bool("cancelled", s.Cancelled).
		Str("error", s.Error).
		Dur("duration", s.Duration()).
		Msg("run summary")

	observe("log", start, nil)
	return nil
}

func (LogSink) Close() error { return nil }

// ============================================================================
// Fan-out
// ============================================================================

// MultiSink records to every sink and joins their errors. One failing sink
// does not stop the others.
type MultiSink []Sink

var _ Sink = MultiSink(nil)

func (m MultiSink) Name() string { return "multi" }

func (m MultiSink) Record(ctx context.Context, s *reconcile.RunSummary) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Record(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, sink := range m {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
