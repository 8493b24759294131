package coordination

import (
	"context"
	"fmt"
)

// PurgeExpired removes expired keys and list entries. Run periodically; reads
// already filter expired rows so timing is not correctness-critical.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	now := nowMillis()
	var total int64
	for _, table := range []string{"kv", "list_entries"} {
		res, err := s.execWithRetry(ctx,
			"DELETE FROM "+table+" WHERE expires_at IS NOT NULL AND expires_at <= ?",
			now,
		)
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", table, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rows affected: %w", err)
		}
		total += affected
	}
	return total, nil
}
