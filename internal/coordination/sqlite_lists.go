package coordination

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PushList appends payload to the tail of list.
func (s *SQLiteStore) PushList(ctx context.Context, list string, payload []byte, ttl time.Duration) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO list_entries (list_key, seq, payload, expires_at)
         VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM list_entries WHERE list_key = ?), ?, ?)`,
		list, list, string(payload), expiryMillis(ttl),
	)
	if err != nil {
		return fmt.Errorf("push list %q: %w", list, err)
	}
	return nil
}

// PushListFront prepends payload so it is consumed before existing entries.
// Requeued entries never expire.
func (s *SQLiteStore) PushListFront(ctx context.Context, list string, payload []byte) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO list_entries (list_key, seq, payload, expires_at)
         VALUES (?, (SELECT COALESCE(MIN(seq), 0) - 1 FROM list_entries WHERE list_key = ?), ?, NULL)`,
		list, list, string(payload),
	)
	if err != nil {
		return fmt.Errorf("push list front %q: %w", list, err)
	}
	return nil
}

// PopList removes and returns the head entry of list without waiting.
func (s *SQLiteStore) PopList(ctx context.Context, list string) ([]byte, bool, error) {
	var (
		payload string
		found   bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var seq int64
		row := tx.QueryRowContext(ctx,
			"SELECT seq, payload FROM list_entries WHERE list_key = ? AND "+notExpired+" ORDER BY seq LIMIT 1",
			list, nowMillis(),
		)
		if err := row.Scan(&seq, &payload); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("select head of %q: %w", list, err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM list_entries WHERE list_key = ? AND seq = ?",
			list, seq,
		); err != nil {
			return fmt.Errorf("delete head of %q: %w", list, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return []byte(payload), true, nil
}

// BlockingPopList removes and returns the head entry of list, polling until
// timeout elapses. Returns (nil, nil) when the list stayed empty.
func (s *SQLiteStore) BlockingPopList(ctx context.Context, list string, timeout time.Duration) ([]byte, error) {
	ctx = ensureContext(ctx)
	deadline := time.Now().Add(timeout)
	for {
		payload, ok, err := s.PopList(ctx, list)
		if err != nil {
			return nil, err
		}
		if ok {
			return payload, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := s.pollInterval
		if wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// ListRange returns up to limit entries from the head of list without
// removing them.
func (s *SQLiteStore) ListRange(ctx context.Context, list string, limit int) ([][]byte, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT payload FROM list_entries WHERE list_key = ? AND "+notExpired+" ORDER BY seq LIMIT ?",
		list, nowMillis(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("range list %q: %w", list, err)
	}
	defer rows.Close()

	var entries [][]byte
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan list entry: %w", err)
		}
		entries = append(entries, []byte(payload))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate list %q: %w", list, err)
	}
	return entries, nil
}

// ListLength returns the number of live entries in list.
func (s *SQLiteStore) ListLength(ctx context.Context, list string) (int64, error) {
	ctx = ensureContext(ctx)
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM list_entries WHERE list_key = ? AND "+notExpired,
		list, nowMillis(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("length of list %q: %w", list, err)
	}
	return count, nil
}
