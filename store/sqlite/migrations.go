package sqlite

import (
	"context"
	"fmt"

	"github.com/hoistq/hoist"
)

// migration is one versioned schema step. Versions are applied in slice
// order and recorded in hoist_migrations so each runs exactly once.
type migration struct {
	version string
	up      []string
}

var migrations = []migration{
	{
		version: "20250101120000_create_jobs",
		up: []string{
			`CREATE TABLE IF NOT EXISTS hoist_jobs (
				id              TEXT PRIMARY KEY,
				type            TEXT NOT NULL,
				queue           TEXT NOT NULL DEFAULT 'default',
				args            BLOB,
				status          TEXT NOT NULL DEFAULT 'pending',
				priority        INTEGER NOT NULL DEFAULT 1,
				max_retries     INTEGER NOT NULL DEFAULT 0,
				attempt         INTEGER NOT NULL DEFAULT 0,
				result          BLOB,
				last_error      TEXT NOT NULL DEFAULT '',
				worker_id       TEXT NOT NULL DEFAULT '',
				execute_at      TIMESTAMP NOT NULL,
				started_at      TIMESTAMP,
				completed_at    TIMESTAMP,
				heartbeat_at    TIMESTAMP,
				timeout_ns      INTEGER NOT NULL DEFAULT 0,
				created_at      TIMESTAMP NOT NULL,
				updated_at      TIMESTAMP NOT NULL
			)`,
			// IDs are K-sortable, so ordering by id within a priority
			// yields enqueue order.
			`CREATE INDEX IF NOT EXISTS idx_hoist_jobs_dequeue
				ON hoist_jobs (queue, priority DESC, id ASC)
				WHERE status = 'pending'`,
			`CREATE INDEX IF NOT EXISTS idx_hoist_jobs_due
				ON hoist_jobs (execute_at)
				WHERE status = 'scheduled'`,
			`CREATE INDEX IF NOT EXISTS idx_hoist_jobs_status
				ON hoist_jobs (status)`,
			`CREATE INDEX IF NOT EXISTS idx_hoist_jobs_heartbeat
				ON hoist_jobs (heartbeat_at)
				WHERE status = 'running'`,
		},
	},
	{
		version: "20250101120001_create_crons",
		up: []string{
			`CREATE TABLE IF NOT EXISTS hoist_crons (
				id              TEXT PRIMARY KEY,
				name            TEXT NOT NULL UNIQUE,
				schedule        TEXT NOT NULL,
				job_type        TEXT NOT NULL,
				queue           TEXT NOT NULL DEFAULT '',
				priority        INTEGER NOT NULL DEFAULT 1,
				args            BLOB,
				last_run_at     TIMESTAMP,
				next_run_at     TIMESTAMP,
				locked_by       TEXT NOT NULL DEFAULT '',
				locked_until    TIMESTAMP,
				enabled         INTEGER NOT NULL DEFAULT 1,
				created_at      TIMESTAMP NOT NULL,
				updated_at      TIMESTAMP NOT NULL
			)`,
		},
	},
	{
		version: "20250101120002_create_workers",
		up: []string{
			`CREATE TABLE IF NOT EXISTS hoist_workers (
				id              TEXT PRIMARY KEY,
				hostname        TEXT NOT NULL DEFAULT '',
				queues          TEXT NOT NULL DEFAULT '[]',
				concurrency     INTEGER NOT NULL DEFAULT 0,
				state           TEXT NOT NULL DEFAULT 'active',
				is_leader       INTEGER NOT NULL DEFAULT 0,
				leader_until    TIMESTAMP,
				last_seen       TIMESTAMP NOT NULL,
				created_at      TIMESTAMP NOT NULL
			)`,
			// Single-row leadership lease.
			`CREATE TABLE IF NOT EXISTS hoist_leader (
				id              INTEGER PRIMARY KEY CHECK (id = 1),
				worker_id       TEXT NOT NULL,
				until           TIMESTAMP NOT NULL
			)`,
		},
	},
}

// Migrate applies all pending migrations in order.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS hoist_migrations (
		version     TEXT PRIMARY KEY,
		applied_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("hoist/sqlite: create migrations table: %w (%w)", err, hoist.ErrMigrationFailed)
	}

	for _, m := range migrations {
		var applied int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM hoist_migrations WHERE version = ?`, m.version,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("hoist/sqlite: check migration %s: %w (%w)", m.version, err, hoist.ErrMigrationFailed)
		}
		if applied > 0 {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("hoist/sqlite: begin migration %s: %w (%w)", m.version, err, hoist.ErrMigrationFailed)
		}
		for _, stmt := range m.up {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback() //nolint:errcheck
				return fmt.Errorf("hoist/sqlite: apply migration %s: %w (%w)", m.version, err, hoist.ErrMigrationFailed)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO hoist_migrations (version) VALUES (?)`, m.version,
		); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("hoist/sqlite: record migration %s: %w (%w)", m.version, err, hoist.ErrMigrationFailed)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("hoist/sqlite: commit migration %s: %w (%w)", m.version, err, hoist.ErrMigrationFailed)
		}
		s.logger.Debug("applied migration", "version", m.version)
	}
	return nil
}
