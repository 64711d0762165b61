// Package store implements the persistence port: parameterized SQL execution
// and transaction scope over conversation messages, memory blocks, the
// memory event log, and pending mutations. It is driver-agnostic — Postgres
// and two SQLite driver variants are supported behind the same DB handle.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Dialect names the SQL flavor in use, since Postgres and SQLite disagree on
// parameter placeholders and bulk-delete binding form (spec.md's Open
// Question on "DELETE ... WHERE id = ANY(?)" binding).
type Dialect string

const (
	DialectPostgres    Dialect = "postgres"
	DialectSQLite      Dialect = "sqlite3"      // cgo driver, github.com/mattn/go-sqlite3
	DialectSQLitePure  Dialect = "sqlite"        // pure-Go driver, modernc.org/sqlite
)

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPoolConfig returns sane pool bounds for a single-daemon process.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// DB wraps a *sql.DB together with the dialect needed to render
// placeholders and bulk-delete clauses correctly.
type DB struct {
	Conn    *sql.DB
	Dialect Dialect
}

// Open opens a connection pool for the given dialect and DSN, pings it, and
// applies the schema (idempotent — CREATE TABLE IF NOT EXISTS).
func Open(dialect Dialect, dsn string, cfg PoolConfig) (*DB, error) {
	driver := string(dialect)
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping %s database: %w", dialect, err)
	}

	db := &DB{Conn: conn, Dialect: dialect}
	if err := db.applySchema(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	if db == nil || db.Conn == nil {
		return nil
	}
	return db.Conn.Close()
}

// placeholder renders the i-th (1-based) bind parameter for the dialect in
// use: "$1", "$2", ... for Postgres, "?" for both SQLite drivers.
func (db *DB) placeholder(i int) string {
	if db.Dialect == DialectPostgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// Placeholder exposes the dialect-correct bind-parameter rendering to other
// packages (e.g. internal/memory) that build their own parameterized SQL
// against this handle.
func (db *DB) Placeholder(i int) string { return db.placeholder(i) }

func (db *DB) applySchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(db.Dialect) {
		if _, err := db.Conn.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
