// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// Dialect abstracts database-specific SQL syntax differences.
type Dialect interface {
	// Name returns the dialect name, which also selects its migrations.
	Name() string

	// DriverName is the database/sql driver to open.
	DriverName() string

	// Placeholder returns the placeholder for the nth parameter (1-indexed).
	// PostgreSQL: "$1", "$2", "$3"
	// MySQL: "?", "?", "?"
	Placeholder(n int) string

	// ReplacePlaceholders converts PostgreSQL-style placeholders ($1, $2, ...)
	// to the dialect's format, so queries are written once.
	ReplacePlaceholders(query string) string

	// ScanBool returns a scanner that can read a boolean from a row.
	// PostgreSQL: directly scans to bool
	// MySQL: scans to int, then converts
	ScanBool() BoolScanner

	// IsDuplicate reports whether err is a unique constraint violation.
	IsDuplicate(err error) bool
}

// BoolScanner scans a boolean value from SQL.
type BoolScanner interface {
	// Dest returns the destination for Scan().
	Dest() any
	// Value returns the scanned boolean value.
	Value() bool
}

// ============================================================================
// PostgreSQL Dialect
// ============================================================================

// PostgresDialect implements Dialect for PostgreSQL and CockroachDB.
type PostgresDialect struct{}

var _ Dialect = PostgresDialect{}

func (d PostgresDialect) Name() string {
	return "postgres"
}

func (d PostgresDialect) DriverName() string {
	return "pgx"
}

func (d PostgresDialect) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (d PostgresDialect) ReplacePlaceholders(query string) string {
	return query
}

func (d PostgresDialect) ScanBool() BoolScanner {
	return &directBoolScanner{}
}

func (d PostgresDialect) IsDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ============================================================================
// MySQL Dialect
// ============================================================================

// MySQLDialect implements Dialect for MySQL and Vitess.
type MySQLDialect struct{}

var _ Dialect = MySQLDialect{}

var pgPlaceholder = regexp.MustCompile(`\$\d+`)

func (d MySQLDialect) Name() string {
	return "mysql"
}

func (d MySQLDialect) DriverName() string {
	return "mysql"
}

func (d MySQLDialect) Placeholder(n int) string {
	return "?"
}

// ReplacePlaceholders rewrites every $n to ?. Arguments must therefore be
// passed in placeholder order.
func (d MySQLDialect) ReplacePlaceholders(query string) string {
	if !strings.Contains(query, "$") {
		return query
	}
	return pgPlaceholder.ReplaceAllString(query, "?")
}

func (d MySQLDialect) ScanBool() BoolScanner {
	return &intBoolScanner{}
}

func (d MySQLDialect) IsDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}

// ============================================================================
// Boolean Scanners
// ============================================================================

// directBoolScanner scans boolean directly (for PostgreSQL).
type directBoolScanner struct {
	value bool
}

func (s *directBoolScanner) Dest() any {
	return &s.value
}

func (s *directBoolScanner) Value() bool {
	return s.value
}

// intBoolScanner scans boolean as int (for MySQL).
type intBoolScanner struct {
	value int
}

func (s *intBoolScanner) Dest() any {
	return &s.value
}

func (s *intBoolScanner) Value() bool {
	return s.value != 0
}
