package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LockExpiry is the staleness window after which a held lock row is
// considered abandoned and reclaimable, per spec.md §5.
const LockExpiry = 5 * time.Minute

// AcquireLock implements spec.md §5's lock-table protocol: within a
// transaction, delete rows for key whose updated_at is older than
// LockExpiry, then INSERT a fresh row. The unique key on `key` makes a
// concurrent acquirer's INSERT fail with a unique-violation, which this
// method reports as (false, nil) rather than an error.
func (s *Store) AcquireLock(ctx context.Context, key string, now time.Time) (bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: acquire lock begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.bind(`DELETE FROM lock WHERE key = ? AND updated_at < ?`), key, now.Add(-LockExpiry)); err != nil {
		return false, fmt.Errorf("store: acquire lock reap: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.bind(`INSERT INTO lock (key, updated_at) VALUES (?, ?)`), key, now); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("store: acquire lock insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: acquire lock commit: %w", err)
	}
	return true, nil
}

// ReleaseLock deletes the held row. Callers invoke this from a defer/finally
// regardless of how the locked work concluded.
func (s *Store) ReleaseLock(ctx context.Context, key string) error {
	if _, err := s.DB.ExecContext(ctx, s.bind(`DELETE FROM lock WHERE key = ?`), key); err != nil {
		return fmt.Errorf("store: release lock %s: %w", key, err)
	}
	return nil
}

// isUniqueViolation recognizes the two drivers' distinct unique-constraint
// error shapes: Postgres's SQLSTATE 23505 and SQLite's "UNIQUE constraint
// failed" message, since lib/pq and modernc.org/sqlite don't share an error
// type.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if strings.Contains(msg, "23505") {
		return true
	}
	if strings.Contains(strings.ToLower(msg), "unique constraint") {
		return true
	}
	return false
}

// WithLock acquires key, runs fn, and always releases the lock afterward
// (the spec's "every run releases the lock in a finally" rule), returning
// (false, nil) without running fn if the lock could not be acquired.
func (s *Store) WithLock(ctx context.Context, key string, now time.Time, fn func(ctx context.Context) error) (ran bool, err error) {
	ok, err := s.AcquireLock(ctx, key, now)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer func() {
		if relErr := s.ReleaseLock(ctx, key); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return true, fn(ctx)
}
