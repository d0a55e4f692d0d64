// Package repository implements the persistence gateway over database/sql.
// The DSN picks the backend: postgres:// URLs use pgx, anything else is a
// sqlite file path. Full-text search runs on tsvector for Postgres and FTS5
// for sqlite; both live in the same transaction as the records they index.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/tomasvik/docpipe/internal/common"
)

// Dialect selects SQL flavor and search machinery.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DialectFor inspects the DSN.
func DialectFor(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// OpenDB opens and pings the catalog database.
func OpenDB(ctx context.Context, cfg common.DatabaseConfig) (*sql.DB, Dialect, error) {
	dialect := DialectFor(cfg.DSN)

	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case DialectPostgres:
		db, err = sql.Open("pgx", cfg.DSN)
	default:
		db, err = sql.Open("sqlite", cfg.DSN)
	}
	if err != nil {
		return nil, dialect, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}

	pingCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, dialect, fmt.Errorf("ping database: %w", err)
	}
	return db, dialect, nil
}

// rebind converts ?-style placeholders to $N for Postgres.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var schemaSQLite = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		locator TEXT NOT NULL,
		fingerprint TEXT NOT NULL UNIQUE,
		format TEXT NOT NULL,
		page_count INTEGER NOT NULL,
		size_bytes INTEGER NOT NULL,
		discovered_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pages (
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		page_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		confidence REAL NOT NULL,
		mode TEXT NOT NULL,
		failed INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (document_id, page_index)
	)`,
	`CREATE TABLE IF NOT EXISTS tags (
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		category TEXT NOT NULL,
		value TEXT NOT NULL,
		confidence REAL NOT NULL,
		PRIMARY KEY (document_id, category)
	)`,
	`CREATE TABLE IF NOT EXISTS summaries (
		document_id TEXT PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		confidence REAL NOT NULL,
		model TEXT NOT NULL
	)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS page_fts USING fts5(
		content, document_id UNINDEXED, page_index UNINDEXED
	)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS tag_fts USING fts5(
		value, document_id UNINDEXED
	)`,
}

var schemaPostgres = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		locator TEXT NOT NULL,
		fingerprint TEXT NOT NULL UNIQUE,
		format TEXT NOT NULL,
		page_count INTEGER NOT NULL,
		size_bytes BIGINT NOT NULL,
		discovered_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pages (
		document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		page_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		mode TEXT NOT NULL,
		failed BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (document_id, page_index)
	)`,
	`CREATE TABLE IF NOT EXISTS tags (
		document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		category TEXT NOT NULL,
		value TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (document_id, category)
	)`,
	`CREATE TABLE IF NOT EXISTS summaries (
		document_id UUID PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		model TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS page_search (
		document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		page_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		tsv TSVECTOR GENERATED ALWAYS AS (to_tsvector('simple', content)) STORED,
		PRIMARY KEY (document_id, page_index)
	)`,
	`CREATE INDEX IF NOT EXISTS page_search_tsv_idx ON page_search USING GIN (tsv)`,
	`CREATE TABLE IF NOT EXISTS tag_search (
		document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		value TEXT NOT NULL,
		tsv TSVECTOR GENERATED ALWAYS AS (to_tsvector('simple', value)) STORED
	)`,
	`CREATE INDEX IF NOT EXISTS tag_search_tsv_idx ON tag_search USING GIN (tsv)`,
}

// EnsureSchema creates the catalog tables and search indexes.
func EnsureSchema(ctx context.Context, db *sql.DB, dialect Dialect) error {
	stmts := schemaSQLite
	if dialect == DialectPostgres {
		stmts = schemaPostgres
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// utcNow keeps stored timestamps comparable across backends.
func utcNow() time.Time {
	return time.Now().UTC()
}
