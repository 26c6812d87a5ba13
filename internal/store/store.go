// Package store provides storage backends for RelayNote.
//
// It holds the durable update watermark, the processed-update dedup set, the
// knowledge-base entries and the notification outbox. SQLite and PostgreSQL
// are supported; an in-memory store backs tests and DSN-less runs.
package store

import (
	"io"
	"log/slog"
	"strings"
)

// Opts holds configuration for store construction.
type Opts struct {
	DSN string
}

// Option configures a store.
type Option func(*Opts)

// WithSQLiteDSN sets the path of the SQLite database file.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns "postgres" for PostgreSQL URLs or keyword/value
// connection strings and "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(d, "postgres://"), strings.HasPrefix(d, "postgresql://"):
		return "postgres"
	case strings.Contains(d, "host=") || strings.Contains(d, "dbname="):
		return "postgres"
	default:
		return "sqlite3"
	}
}

// Store is the full persistence surface used by the application.
type Store interface {
	OffsetRepo
	EntryRepo
	OutboxRepo
	io.Closer
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*InMemoryStore)(nil)
)

// Open returns the store for dsn: PostgreSQL or SQLite by DetectDSNType,
// or an InMemoryStore when dsn is empty.
func Open(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		slog.Warn("store.Open: no DSN, using in-memory store; offsets will not survive a restart")
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(dsn) == "postgres" {
		slog.Debug("store.Open: detected PostgreSQL DSN")
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	slog.Debug("store.Open: detected SQLite DSN", "db_path", dsn)
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}
