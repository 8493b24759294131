package coordination

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AddUnlessMember atomically adds member to set and appends payload to list.
// Returns false without writing when member is already present.
func (s *SQLiteStore) AddUnlessMember(ctx context.Context, set, member, list string, payload []byte) (bool, error) {
	var added bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(1) FROM set_members WHERE set_key = ? AND member = ?",
			set, member,
		).Scan(&count); err != nil {
			return fmt.Errorf("check member %q of %q: %w", member, set, err)
		}
		if count > 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO set_members (set_key, member, added_at) VALUES (?, ?, ?)",
			set, member, nowMillis(),
		); err != nil {
			return fmt.Errorf("add member %q to %q: %w", member, set, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO list_entries (list_key, seq, payload, expires_at)
             VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM list_entries WHERE list_key = ?), ?, NULL)`,
			list, list, string(payload),
		); err != nil {
			return fmt.Errorf("push list %q: %w", list, err)
		}
		added = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// IsMember reports whether member is in set.
func (s *SQLiteStore) IsMember(ctx context.Context, set, member string) (bool, error) {
	ctx = ensureContext(ctx)
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM set_members WHERE set_key = ? AND member = ?",
		set, member,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check member %q of %q: %w", member, set, err)
	}
	return count > 0, nil
}

// RemoveMember removes member from set and reports whether it was present.
func (s *SQLiteStore) RemoveMember(ctx context.Context, set, member string) (bool, error) {
	res, err := s.execWithRetry(ctx,
		"DELETE FROM set_members WHERE set_key = ? AND member = ?",
		set, member,
	)
	if err != nil {
		return false, fmt.Errorf("remove member %q from %q: %w", member, set, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// SetMembers returns the live members of set in insertion order.
func (s *SQLiteStore) SetMembers(ctx context.Context, set string) ([]string, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		"SELECT member FROM set_members WHERE set_key = ? ORDER BY added_at, member",
		set,
	)
	if err != nil {
		return nil, fmt.Errorf("list members of %q: %w", set, err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members of %q: %w", set, err)
	}
	return members, nil
}

// RecordAndRemoveMember atomically stores value under key with ttl and
// removes member from set.
func (s *SQLiteStore) RecordAndRemoveMember(ctx context.Context, key string, value []byte, ttl time.Duration, set, member string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
             ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
			key, string(value), expiryMillis(ttl),
		); err != nil {
			return fmt.Errorf("record key %q: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM set_members WHERE set_key = ? AND member = ?",
			set, member,
		); err != nil {
			return fmt.Errorf("remove member %q from %q: %w", member, set, err)
		}
		return nil
	})
}

// PushListAndRemoveMember atomically appends payload to list with ttl and
// removes member from set.
func (s *SQLiteStore) PushListAndRemoveMember(ctx context.Context, list string, payload []byte, ttl time.Duration, set, member string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO list_entries (list_key, seq, payload, expires_at)
             VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM list_entries WHERE list_key = ?), ?, ?)`,
			list, list, string(payload), expiryMillis(ttl),
		); err != nil {
			return fmt.Errorf("push list %q: %w", list, err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM set_members WHERE set_key = ? AND member = ?",
			set, member,
		); err != nil {
			return fmt.Errorf("remove member %q from %q: %w", member, set, err)
		}
		return nil
	})
}
