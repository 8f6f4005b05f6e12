package bunstore

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
	m := toCronModel(entry)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return hoist.ErrDuplicateCron
		}
		return fmt.Errorf("hoist/bun: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	m := new(cronEntryModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", entryID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hoist.ErrCronNotFound
		}
		return nil, fmt.Errorf("hoist/bun: get cron: %w", err)
	}
	return fromCronModel(m)
}

// ListCrons returns all cron entries, oldest first.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	var models []cronEntryModel
	err := s.db.NewSelect().Model(&models).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("hoist/bun: list crons: %w", err)
	}

	entries := make([]*cron.Entry, 0, len(models))
	for i := range models {
		e, convErr := fromCronModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("hoist/bun: list crons convert: %w", convErr)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// AcquireCronLock attempts to acquire the firing lock for a cron
// entry. The conditional UPDATE succeeds only when the lock is free,
// expired, or already held by this worker.
func (s *Store) AcquireCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	wID := workerID.String()

	res, err := s.db.NewUpdate().
		Model((*cronEntryModel)(nil)).
		Set("locked_by = ?", wID).
		Set("locked_until = ?", now.Add(ttl)).
		Where("id = ?", entryID.String()).
		Where("(locked_by = '' OR locked_until IS NULL OR locked_until <= ? OR locked_by = ?)", now, wID).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("hoist/bun: acquire cron lock: %w", err)
	}

	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows > 0 {
		return true, nil
	}

	// Distinguish a held lock from a missing entry.
	exists, existErr := s.db.NewSelect().
		Model((*cronEntryModel)(nil)).
		Where("id = ?", entryID.String()).
		Exists(ctx)
	if existErr != nil {
		return false, fmt.Errorf("hoist/bun: check cron exists: %w", existErr)
	}
	if !exists {
		return false, hoist.ErrCronNotFound
	}
	return false, nil
}

// ReleaseCronLock releases the firing lock for a cron entry. A lock
// held by a different worker is left alone.
func (s *Store) ReleaseCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID) error {
	_, err := s.db.NewUpdate().
		Model((*cronEntryModel)(nil)).
		Set("locked_by = ''").
		Set("locked_until = NULL").
		Where("id = ?", entryID.String()).
		Where("locked_by = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hoist/bun: release cron lock: %w", err)
	}
	return nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*cronEntryModel)(nil)).
		Set("last_run_at = ?", at.UTC()).
		Set("updated_at = NOW()").
		Where("id = ?", entryID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hoist/bun: update cron last run: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return hoist.ErrCronNotFound
	}
	return nil
}

// UpdateCronEntry updates a cron entry (Enabled, NextRunAt, etc.).
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	m := toCronModel(entry)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("hoist/bun: update cron entry: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return hoist.ErrCronNotFound
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	res, err := s.db.NewDelete().
		Model((*cronEntryModel)(nil)).
		Where("id = ?", entryID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hoist/bun: delete cron: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return hoist.ErrCronNotFound
	}
	return nil
}
