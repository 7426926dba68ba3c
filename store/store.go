// Package store is gatewd's dialect-aware persistence layer: the `log`
// table and its four hourly-aggregate tables, the `organization`/`api_key`
// rows the billing batcher mutates, and the `lock` table backing C10's
// distributed-lock coordination.
//
// Grounded on the teacher's internal/admin/sql_store.go (dialect field +
// bind() `?`→`$N` placeholder translation) and internal/requestlog/store.go
// (DDL-on-init idiom), widened from a single flat table to the full
// log+aggregates+lock schema spec.md §3/§6 describes.
package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Store wraps a dialect-aware *sql.DB for Postgres or SQLite.
type Store struct {
	DB      *sql.DB
	Dialect string // "postgres" or "sqlite"
}

// Open connects to dsn, inferring the dialect from its scheme
// ("postgres://..."/"postgresql://..." vs anything else, treated as a
// SQLite file path or "sqlite://path").
func Open(dsn string) (*Store, error) {
	dialect := "sqlite"
	driver := "sqlite"
	conn := dsn
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dialect, driver = "postgres", "postgres"
	case strings.HasPrefix(dsn, "sqlite://"):
		conn = strings.TrimPrefix(dsn, "sqlite://")
	}

	db, err := sql.Open(driver, conn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dialect, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping %s: %w", dialect, err)
	}
	s := &Store{DB: db, Dialect: dialect}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// bind rewrites `?` placeholders into Postgres `$N` form when the dialect
// requires it, mirroring the teacher's sql_store.go bind() helper.
func (s *Store) bind(query string) string {
	if s.Dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// migrate runs the full DDL. Every statement is idempotent
// (CREATE TABLE/INDEX IF NOT EXISTS) so Migrate can run on every boot.
func (s *Store) migrate() error {
	for _, stmt := range s.ddl() {
		if _, err := s.DB.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w (statement: %s)", err, firstLine(stmt))
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// Migrate exposes DDL application for the CLI's `migrate` subcommand.
func (s *Store) Migrate() error { return s.migrate() }
