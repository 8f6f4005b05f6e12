package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/hoistq/hoist"
	"github.com/hoistq/hoist/cron"
	"github.com/hoistq/hoist/id"
)

// RegisterCron persists a new cron entry. The UNIQUE constraint on the
// name column is the duplicate check.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	query := fmt.Sprintf(`INSERT INTO hoist_crons (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, cronColumns)
	if _, err := s.db.ExecContext(ctx, query, cronArgs(entry)...); err != nil {
		if isDuplicateKey(err) {
			return hoist.ErrDuplicateCron
		}
		return fmt.Errorf("hoist/sqlite: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM hoist_crons WHERE id = ?`, cronColumns)
	e, err := scanCron(s.db.QueryRowContext(ctx, query, entryID.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, hoist.ErrCronNotFound
		}
		return nil, fmt.Errorf("hoist/sqlite: get cron: %w", err)
	}
	return e, nil
}

// ListCrons returns all cron entries, oldest first.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM hoist_crons ORDER BY created_at ASC`, cronColumns)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("hoist/sqlite: list crons: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var entries []*cron.Entry
	for rows.Next() {
		e, err := scanCron(rows)
		if err != nil {
			return nil, fmt.Errorf("hoist/sqlite: list crons scan: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AcquireCronLock attempts to acquire the firing lock for a cron entry.
// The conditional UPDATE succeeds only when the lock is free, expired,
// or already held by this worker.
func (s *Store) AcquireCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	wID := workerID.String()

	res, err := s.db.ExecContext(ctx, `
		UPDATE hoist_crons
		SET locked_by = ?, locked_until = ?
		WHERE id = ?
		  AND (locked_by = '' OR locked_until IS NULL OR locked_until <= ? OR locked_by = ?)`,
		wID, now.Add(ttl), entryID.String(), now, wID)
	if err != nil {
		return false, fmt.Errorf("hoist/sqlite: acquire cron lock: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite3 driver always returns nil
	if rows > 0 {
		return true, nil
	}

	// Distinguish a held lock from a missing entry.
	if _, err := s.GetCron(ctx, entryID); err != nil {
		return false, err
	}
	return false, nil
}

// ReleaseCronLock releases the firing lock for a cron entry. A lock
// held by a different worker is left alone.
func (s *Store) ReleaseCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE hoist_crons
		SET locked_by = '', locked_until = NULL
		WHERE id = ? AND locked_by = ?`,
		entryID.String(), workerID.String())
	if err != nil {
		return fmt.Errorf("hoist/sqlite: release cron lock: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite3 driver always returns nil
	if rows > 0 {
		return nil
	}

	if _, err := s.GetCron(ctx, entryID); err != nil {
		return err
	}
	return nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE hoist_crons
		SET last_run_at = ?, updated_at = ?
		WHERE id = ?`,
		at.UTC(), time.Now().UTC(), entryID.String())
	if err != nil {
		return fmt.Errorf("hoist/sqlite: update cron last run: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite3 driver always returns nil
	if rows == 0 {
		return hoist.ErrCronNotFound
	}
	return nil
}

// UpdateCronEntry updates a cron entry (Enabled, NextRunAt, etc.).
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	entry.Touch(time.Now())

	res, err := s.db.ExecContext(ctx, `
		UPDATE hoist_crons
		SET name = ?, schedule = ?, job_type = ?, queue = ?, priority = ?, args = ?,
		    last_run_at = ?, next_run_at = ?, locked_by = ?, locked_until = ?,
		    enabled = ?, updated_at = ?
		WHERE id = ?`,
		entry.Name, entry.Schedule, entry.JobType, entry.Queue, int(entry.Priority),
		entry.Args, nullTime(entry.LastRunAt), nullTime(entry.NextRunAt),
		entry.LockedBy, nullTime(entry.LockedUntil), entry.Enabled,
		entry.UpdatedAt.UTC(), entry.ID.String())
	if err != nil {
		return fmt.Errorf("hoist/sqlite: update cron: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite3 driver always returns nil
	if rows == 0 {
		return hoist.ErrCronNotFound
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM hoist_crons WHERE id = ?`, entryID.String())
	if err != nil {
		return fmt.Errorf("hoist/sqlite: delete cron: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite3 driver always returns nil
	if rows == 0 {
		return hoist.ErrCronNotFound
	}
	return nil
}
