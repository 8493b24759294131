package coordination

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Exists reports whether a live value is stored under key.
func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx = ensureContext(ctx)
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM kv WHERE key = ? AND "+notExpired,
		key, nowMillis(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check key %q: %w", key, err)
	}
	return count > 0, nil
}

// GetValue returns the value stored under key.
func (s *SQLiteStore) GetValue(ctx context.Context, key string) ([]byte, bool, error) {
	ctx = ensureContext(ctx)
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM kv WHERE key = ? AND "+notExpired,
		key, nowMillis(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get key %q: %w", key, err)
	}
	return []byte(value), true, nil
}

// SetWithTTL stores value under key, replacing any previous value.
func (s *SQLiteStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, string(value), expiryMillis(ttl),
	)
	if err != nil {
		return fmt.Errorf("set key %q: %w", key, err)
	}
	return nil
}

// Delete removes the value stored under key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.execWithRetry(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete key %q: %w", key, err)
	}
	return nil
}

// IncrementCounter adds one to the counter under key and returns the new
// value.
func (s *SQLiteStore) IncrementCounter(ctx context.Context, key string) (int64, error) {
	var value int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := nowMillis()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO counters (key, value, updated_at) VALUES (?, 1, ?)
             ON CONFLICT(key) DO UPDATE SET value = counters.value + 1, updated_at = excluded.updated_at`,
			key, now,
		); err != nil {
			return fmt.Errorf("increment counter %q: %w", key, err)
		}
		if err := tx.QueryRowContext(ctx, "SELECT value FROM counters WHERE key = ?", key).Scan(&value); err != nil {
			return fmt.Errorf("read counter %q: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}

// GetCounter returns the counter stored under key, zero when absent.
func (s *SQLiteStore) GetCounter(ctx context.Context, key string) (int64, error) {
	ctx = ensureContext(ctx)
	var value int64
	err := s.db.QueryRowContext(ctx, "SELECT value FROM counters WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get counter %q: %w", key, err)
	}
	return value, nil
}
