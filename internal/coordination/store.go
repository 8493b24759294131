package coordination

import (
	"context"
	"time"
)

// Store is the coordination contract the queue, scanner, and workers are
// built against. Implementations must make every method safe for concurrent
// use across processes and must apply the documented atomicity: the three
// composite operations each execute as a single transaction.
//
// TTL semantics: a zero or negative ttl means the record never expires.
// Expired records are invisible to every read and are eventually removed by
// PurgeExpired.
type Store interface {
	// Exists reports whether a live value is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// GetValue returns the value stored under key. The boolean reports
	// whether a live value was found.
	GetValue(ctx context.Context, key string) ([]byte, bool, error)

	// SetWithTTL stores value under key, replacing any previous value.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the value stored under key. Missing keys are not an
	// error.
	Delete(ctx context.Context, key string) error

	// AddUnlessMember atomically adds member to set and appends payload to
	// list. When member is already in the set nothing is written and the
	// result is false.
	AddUnlessMember(ctx context.Context, set, member, list string, payload []byte) (bool, error)

	// RemoveMember removes member from set and reports whether it was
	// present.
	RemoveMember(ctx context.Context, set, member string) (bool, error)

	// IsMember reports whether member is in set.
	IsMember(ctx context.Context, set, member string) (bool, error)

	// SetMembers returns the live members of set in insertion order.
	SetMembers(ctx context.Context, set string) ([]string, error)

	// BlockingPopList removes and returns the head entry of list, waiting up
	// to timeout for one to appear. A nil payload with nil error means the
	// timeout elapsed with the list empty.
	BlockingPopList(ctx context.Context, list string, timeout time.Duration) ([]byte, error)

	// PushList appends payload to the tail of list. A positive ttl expires
	// the entry if it is still queued after that duration.
	PushList(ctx context.Context, list string, payload []byte, ttl time.Duration) error

	// PushListFront prepends payload so it is consumed before existing
	// entries.
	PushListFront(ctx context.Context, list string, payload []byte) error

	// PopList removes and returns the head entry of list without waiting.
	PopList(ctx context.Context, list string) ([]byte, bool, error)

	// ListRange returns up to limit entries from the head of list without
	// removing them. A non-positive limit returns all entries.
	ListRange(ctx context.Context, list string, limit int) ([][]byte, error)

	// ListLength returns the number of live entries in list.
	ListLength(ctx context.Context, list string) (int64, error)

	// RecordAndRemoveMember atomically stores value under key with ttl and
	// removes member from set.
	RecordAndRemoveMember(ctx context.Context, key string, value []byte, ttl time.Duration, set, member string) error

	// PushListAndRemoveMember atomically appends payload to list with ttl
	// and removes member from set.
	PushListAndRemoveMember(ctx context.Context, list string, payload []byte, ttl time.Duration, set, member string) error

	// IncrementCounter adds one to the counter stored under key and returns
	// the new value. Missing counters start at zero.
	IncrementCounter(ctx context.Context, key string) (int64, error)

	// GetCounter returns the counter stored under key, zero when absent.
	GetCounter(ctx context.Context, key string) (int64, error)

	// PurgeExpired removes expired records and returns how many were
	// deleted.
	PurgeExpired(ctx context.Context) (int64, error)

	// CheckHealth verifies the store is reachable.
	CheckHealth(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}
