// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/LeeDigitalWorks/dirsync/pkg/logger"
)

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql
var migrationsFS embed.FS

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// LoadMigrations loads the migrations of one dialect, ordered by version.
func LoadMigrations(dialect Dialect) ([]Migration, error) {
	dir := path.Join("migrations", dialect.Name())
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		// 001_create_identities.sql -> 1
		var version int
		var name string
		if _, err := fmt.Sscanf(entry.Name(), "%d_%s", &version, &name); err != nil {
			return nil, fmt.Errorf("parse migration filename %s: %w", entry.Name(), err)
		}

		content, err := fs.ReadFile(migrationsFS, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    strings.TrimSuffix(name, ".sql"),
			SQL:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Migrate applies every pending migration for the store's dialect.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	migrations, err := LoadMigrations(s.dialect)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		logger.Info().Int("version", m.Version).Str("name", m.Name).Str("dialect", s.dialect.Name()).Msg("applied migration")
	}
	return nil
}

func (s *Store) apply(ctx context.Context, m Migration) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range splitSQLStatements(m.SQL) {
			stmt = stripLeadingComments(stmt)
			if stmt == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("execute statement: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, s.dialect.ReplacePlaceholders(`INSERT INTO schema_migrations (version) VALUES ($1)`), m.Version)
		return err
	})
}

// stripLeadingComments removes leading SQL comment lines from a statement.
func stripLeadingComments(stmt string) string {
	lines := strings.Split(strings.TrimSpace(stmt), "\n")
	for len(lines) > 0 {
		line := strings.TrimSpace(lines[0])
		if line == "" || strings.HasPrefix(line, "--") {
			lines = lines[1:]
			continue
		}
		break
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// splitSQLStatements splits a script on semicolons that are outside string
// literals and comments.
func splitSQLStatements(script string) []string {
	var statements []string
	var current strings.Builder
	var quote byte
	inLineComment := false

	for i := 0; i < len(script); i++ {
		c := script[i]

		switch {
		case inLineComment:
			current.WriteByte(c)
			if c == '\n' {
				inLineComment = false
			}
			continue
		case quote != 0:
			current.WriteByte(c)
			if c == quote {
				if i+1 < len(script) && script[i+1] == quote {
					current.WriteByte(script[i+1])
					i++
					continue
				}
				quote = 0
			}
			continue
		}

		switch {
		case c == '-' && i+1 < len(script) && script[i+1] == '-':
			inLineComment = true
			current.WriteByte(c)
		case c == '\'' || c == '"':
			quote = c
			current.WriteByte(c)
		case c == ';':
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}

	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}
