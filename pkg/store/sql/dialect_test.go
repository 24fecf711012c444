// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/dirsync/pkg/store"
)

func TestPostgresDialect_Placeholders(t *testing.T) {
	d := PostgresDialect{}

	assert.Equal(t, "$1", d.Placeholder(1))
	assert.Equal(t, "$10", d.Placeholder(10))

	query := "UPDATE identities SET uid_number = $1 WHERE identity_key = $2"
	assert.Equal(t, query, d.ReplacePlaceholders(query))
}

func TestMySQLDialect_ReplacePlaceholders(t *testing.T) {
	d := MySQLDialect{}

	assert.Equal(t, "?", d.Placeholder(3))
	assert.Equal(t,
		"UPDATE identities SET uid_number = ?, login_shell = ? WHERE identity_key = ?",
		d.ReplacePlaceholders("UPDATE identities SET uid_number = $1, login_shell = $2 WHERE identity_key = $3"))
	assert.Equal(t, "VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		d.ReplacePlaceholders("VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)"))
	assert.Equal(t, "SELECT 1", d.ReplacePlaceholders("SELECT 1"))
}

func TestDialect_ScanBool(t *testing.T) {
	pg := PostgresDialect{}.ScanBool()
	*(pg.Dest().(*bool)) = true
	assert.True(t, pg.Value())

	my := MySQLDialect{}.ScanBool()
	*(my.Dest().(*int)) = 1
	assert.True(t, my.Value())
}

func TestDialect_IsDuplicate(t *testing.T) {
	pgDup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	myDup := fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062})

	assert.True(t, PostgresDialect{}.IsDuplicate(pgDup))
	assert.False(t, PostgresDialect{}.IsDuplicate(myDup))
	assert.True(t, MySQLDialect{}.IsDuplicate(myDup))
	assert.False(t, MySQLDialect{}.IsDuplicate(errors.New("boom")))
}

func TestDialectFor(t *testing.T) {
	for _, tt := range []struct {
		driver store.Driver
		want   string
	}{
		{store.DriverPostgres, "postgres"},
		{store.DriverCockroach, "postgres"},
		{store.DriverMySQL, "mysql"},
	} {
		d, err := DialectFor(tt.driver)
		require.NoError(t, err)
		assert.Equal(t, tt.want, d.Name())
	}

	_, err := DialectFor(store.DriverLevelDB)
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	s := NewStore(nil, PostgresDialect{}, Config{})

	assert.ErrorIs(t, s.classify(&pgconn.PgError{Code: "23505"}), store.ErrAlreadyExists)
	assert.ErrorIs(t, s.classify(fmt.Errorf("query: %w", mysql.ErrInvalidConn)), store.ErrUnavailable)

	plain := errors.New("check constraint")
	assert.Equal(t, plain, s.classify(plain))
	assert.Nil(t, s.classify(nil))
}

func TestLoadMigrations(t *testing.T) {
	for _, d := range []Dialect{PostgresDialect{}, MySQLDialect{}} {
		migrations, err := LoadMigrations(d)
		require.NoError(t, err, d.Name())
		require.Len(t, migrations, 2)
		assert.Equal(t, 1, migrations[0].Version)
		assert.Equal(t, "create_identities", migrations[0].Name)
		assert.Equal(t, 2, migrations[1].Version)
		assert.Contains(t, migrations[1].SQL, "run_summaries")
	}
}

func TestSplitSQLStatements(t *testing.T) {
	script := `
-- leading comment; with a semicolon
CREATE TABLE a (x TEXT DEFAULT 'a;b');
CREATE INDEX i ON a (x);
`
	stmts := splitSQLStatements(script)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x TEXT DEFAULT 'a;b')", stripLeadingComments(stmts[0]))
	assert.Equal(t, "CREATE INDEX i ON a (x)", stmts[1])
}
