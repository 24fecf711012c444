//go:build integration

// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/dirsync/pkg/store"
	storesql "github.com/LeeDigitalWorks/dirsync/pkg/store/sql"
)

func TestSQLSinkIntegration(t *testing.T) {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		t.Skip("DB_DSN not set")
	}
	driver := store.Driver(os.Getenv("DB_DRIVER"))
	if driver == "" {
		driver = store.DriverPostgres
	}

	ctx := context.Background()
	s, err := storesql.Open(ctx, storesql.DefaultConfig(dsn, driver))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate(ctx))

	sum := summary()
	_, err = s.DB().ExecContext(ctx, s.Dialect().ReplacePlaceholders(`DELETE FROM run_summaries WHERE run_id = $1`), sum.RunID)
	require.NoError(t, err)

	sink := NewSQLSink(s)
	require.NoError(t, sink.Record(ctx, sum))
	assert.Error(t, sink.Record(ctx, sum), "run IDs are unique")

	var status string
	err = s.DB().QueryRowContext(ctx, s.Dialect().ReplacePlaceholders(`SELECT status FROM run_summaries WHERE run_id = $1`), sum.RunID).Scan(&status)
	require.NoError(t, err)
	assert.Equal(t, "completed", status)
}
