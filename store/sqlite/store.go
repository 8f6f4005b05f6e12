package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/hoistq/hoist/cluster"
	"github.com/hoistq/hoist/cron"
	"github.com/hoistq/hoist/job"
	"github.com/hoistq/hoist/queue"
)

// Compile-time interface checks. The composite store.Backend cannot be
// asserted here (import cycle), so each subsystem contract is verified.
var (
	_ job.Store     = (*Store)(nil)
	_ queue.Queue   = (*Store)(nil)
	_ cron.Store    = (*Store)(nil)
	_ cluster.Store = (*Store)(nil)
)

// Store implements the composite store.Backend interface on SQLite.
// Delivery eligibility is derived from the jobs table itself: a pending
// row is ready, a scheduled row is deferred, everything else is
// invisible to Dequeue. Claims ride on UPDATE ... RETURNING, which is
// atomic under SQLite's writer lock.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// owned is set by Open; Close then tears down the connection.
	owned bool
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store on an existing database handle. The caller owns
// the *sql.DB lifecycle; Close is a no-op.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open opens (or creates) the database file at path and returns a Store
// that owns the connection. Use ":memory:" for an in-memory database.
// SQLite allows one writer at a time, so the pool is capped at a single
// connection; busy_timeout covers the rest.
func Open(path string, opts ...Option) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("hoist/sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := New(db, opts...)
	s.owned = true
	return s, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection when the Store opened it; otherwise the
// caller owns the handle and Close is a no-op.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// ── helpers ──────────────────────────────────────────────────────

// isNoRows reports whether err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey reports whether err is a unique constraint violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
