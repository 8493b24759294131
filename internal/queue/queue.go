package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"loom/internal/coordination"
	"loom/internal/logging"
	"loom/internal/services"
)

// Stats statuses recorded per source.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Options configures a TaskQueue. TTLs apply to processed records and failed
// entries; zero values select the defaults (30 and 7 days).
type Options struct {
	Namespace    string
	ProcessedTTL time.Duration
	FailedTTL    time.Duration
}

const (
	defaultProcessedTTL = 30 * 24 * time.Hour
	defaultFailedTTL    = 7 * 24 * time.Hour
)

// TaskQueue coordinates conversion tasks between publishers and workers. All
// state lives in the coordination store; the queue itself is stateless and
// safe for concurrent use.
type TaskQueue struct {
	store        coordination.Store
	keys         Keys
	processedTTL time.Duration
	failedTTL    time.Duration
	logger       *slog.Logger
}

// New builds a TaskQueue on the given store.
func New(store coordination.Store, opts Options, logger *slog.Logger) *TaskQueue {
	processedTTL := opts.ProcessedTTL
	if processedTTL <= 0 {
		processedTTL = defaultProcessedTTL
	}
	failedTTL := opts.FailedTTL
	if failedTTL <= 0 {
		failedTTL = defaultFailedTTL
	}
	return &TaskQueue{
		store:        store,
		keys:         NewKeys(opts.Namespace),
		processedTTL: processedTTL,
		failedTTL:    failedTTL,
		logger:       logging.NewComponentLogger(logger, "queue"),
	}
}

// Keys exposes the queue's key layout so collaborators (the scanner cursor)
// share the same namespace.
func (q *TaskQueue) Keys() Keys {
	return q.keys
}

// Publish enqueues the task unless its identity is already pending. The
// membership check and the list append happen in one atomic store operation,
// so two publishers racing on the same episode produce exactly one entry.
// Returns false when the task was already pending.
func (q *TaskQueue) Publish(ctx context.Context, task *ConversionTask) (bool, error) {
	payload, err := task.Encode()
	if err != nil {
		return false, services.Wrap(services.ErrValidation, "queue", "publish", "encode task", err)
	}
	added, err := q.store.AddUnlessMember(ctx, q.keys.Pending(), task.Identity(), q.keys.Tasks(), payload)
	if err != nil {
		return false, services.Wrap(nil, "queue", "publish", "store task", err)
	}
	return added, nil
}

// Consume blocks up to timeout for the next task. A nil task with nil error
// means the timeout elapsed. Payloads that fail to decode are shunted to the
// failed list rather than returned; re-consuming them would fail identically.
func (q *TaskQueue) Consume(ctx context.Context, timeout time.Duration) (*ConversionTask, error) {
	payload, err := q.store.BlockingPopList(ctx, q.keys.Tasks(), timeout)
	if err != nil {
		return nil, services.Wrap(nil, "queue", "consume", "pop work list", err)
	}
	if payload == nil {
		return nil, nil
	}
	task, decodeErr := DecodeTask(payload)
	if decodeErr != nil {
		q.shuntMalformed(ctx, payload, decodeErr)
		return nil, nil
	}
	return task, nil
}

func (q *TaskQueue) shuntMalformed(ctx context.Context, payload []byte, decodeErr error) {
	wrapped := services.Wrap(services.ErrMalformed, "queue", "consume", "decode task payload", decodeErr)
	entry := FailedEntry{
		Task:     json.RawMessage(payload),
		Error:    wrapped.Error(),
		FailedAt: time.Now().UTC(),
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		q.logger.Error("drop malformed payload: encode failed entry",
			logging.Error(err),
			logging.String(logging.FieldEventType, "queue_shunt_failed"),
		)
		return
	}
	if err := q.store.PushList(ctx, q.keys.Failed(), encoded, q.failedTTL); err != nil {
		q.logger.Error("drop malformed payload: push failed list",
			logging.Error(err),
			logging.String(logging.FieldEventType, "queue_shunt_failed"),
		)
		return
	}
	q.logger.Warn("malformed task payload moved to failed list",
		logging.Error(decodeErr),
		logging.String(logging.FieldEventType, "queue_payload_malformed"),
	)
}

// MarkProcessed writes the processed record for the episode and releases its
// pending entry in one atomic operation. Republished tasks for the same
// identity short-circuit in the worker while the record lives.
func (q *TaskQueue) MarkProcessed(ctx context.Context, source Source, episodeID string) error {
	identity := string(source) + ":" + episodeID
	value := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	err := q.store.RecordAndRemoveMember(ctx,
		q.keys.Processed(string(source), episodeID), value, q.processedTTL,
		q.keys.Pending(), identity,
	)
	if err != nil {
		return services.Wrap(nil, "queue", "mark processed", identity, err)
	}
	return nil
}

// IsProcessed reports whether a live processed record exists for the episode.
func (q *TaskQueue) IsProcessed(ctx context.Context, source Source, episodeID string) (bool, error) {
	return q.store.Exists(ctx, q.keys.Processed(string(source), episodeID))
}

// IsPending reports whether the episode's identity is in the pending set.
func (q *TaskQueue) IsPending(ctx context.Context, source Source, episodeID string) (bool, error) {
	return q.store.IsMember(ctx, q.keys.Pending(), string(source)+":"+episodeID)
}

// MoveToFailed dead-letters the task with its failure context and releases
// its pending entry in one atomic operation.
func (q *TaskQueue) MoveToFailed(ctx context.Context, task *ConversionTask, errText string) error {
	payload, err := task.Encode()
	if err != nil {
		return services.Wrap(services.ErrValidation, "queue", "move to failed", "encode task", err)
	}
	entry := FailedEntry{
		Task:     json.RawMessage(payload),
		Error:    errText,
		FailedAt: time.Now().UTC(),
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return services.Wrap(nil, "queue", "move to failed", "encode entry", err)
	}
	err = q.store.PushListAndRemoveMember(ctx,
		q.keys.Failed(), encoded, q.failedTTL,
		q.keys.Pending(), task.Identity(),
	)
	if err != nil {
		return services.Wrap(nil, "queue", "move to failed", task.Identity(), err)
	}
	return nil
}

// Requeue puts the task back at the consumption-priority end of the work
// list without touching the pending set; the task is still in flight.
func (q *TaskQueue) Requeue(ctx context.Context, task *ConversionTask) error {
	payload, err := task.Encode()
	if err != nil {
		return services.Wrap(services.ErrValidation, "queue", "requeue", "encode task", err)
	}
	if err := q.store.PushListFront(ctx, q.keys.Tasks(), payload); err != nil {
		return services.Wrap(nil, "queue", "requeue", task.Identity(), err)
	}
	return nil
}

// ReconcilePending releases pending reservations that have no payload left in
// the work list. A reservation without a payload means a consumer died before
// requeueing its task; until the reservation is released, publish dedup keeps
// the episode out of the queue forever. Callers must ensure no consumer is
// running. Returns the number of reservations released.
func (q *TaskQueue) ReconcilePending(ctx context.Context) (int, error) {
	raws, err := q.store.ListRange(ctx, q.keys.Tasks(), 0)
	if err != nil {
		return 0, services.Wrap(nil, "queue", "reconcile pending", "read work list", err)
	}
	queued := make(map[string]struct{}, len(raws))
	for _, raw := range raws {
		task, err := DecodeTask(raw)
		if err != nil {
			// No identity is recoverable from a malformed payload; the
			// entry itself is shunted to the failed list when consumed.
			continue
		}
		queued[task.Identity()] = struct{}{}
	}

	members, err := q.store.SetMembers(ctx, q.keys.Pending())
	if err != nil {
		return 0, services.Wrap(nil, "queue", "reconcile pending", "read pending set", err)
	}

	released := 0
	for _, identity := range members {
		if _, ok := queued[identity]; ok {
			continue
		}
		removed, err := q.store.RemoveMember(ctx, q.keys.Pending(), identity)
		if err != nil {
			return released, services.Wrap(nil, "queue", "reconcile pending", identity, err)
		}
		if removed {
			released++
			q.logger.Warn("released orphaned pending reservation",
				logging.String("identity", identity),
				logging.String(logging.FieldEventType, "queue_pending_reconciled"),
			)
		}
	}
	return released, nil
}

// ReplayFailed drains the failed list and republishes every decodable entry.
// Publish dedup makes replay safe for tasks still in flight; entries whose
// embedded task no longer decodes are pushed back so nothing is dropped
// silently. Returns the number of tasks republished.
func (q *TaskQueue) ReplayFailed(ctx context.Context) (int, error) {
	length, err := q.store.ListLength(ctx, q.keys.Failed())
	if err != nil {
		return 0, services.Wrap(nil, "queue", "replay failed", "read length", err)
	}

	replayed := 0
	for i := int64(0); i < length; i++ {
		raw, ok, err := q.store.PopList(ctx, q.keys.Failed())
		if err != nil {
			return replayed, services.Wrap(nil, "queue", "replay failed", "pop entry", err)
		}
		if !ok {
			break
		}

		var entry FailedEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			q.pushBack(ctx, raw)
			continue
		}
		task, err := entry.DecodeTask()
		if err != nil {
			q.pushBack(ctx, raw)
			continue
		}

		published, err := q.Publish(ctx, task)
		if err != nil {
			q.pushBack(ctx, raw)
			return replayed, err
		}
		if published {
			replayed++
		}
	}
	return replayed, nil
}

func (q *TaskQueue) pushBack(ctx context.Context, raw []byte) {
	if err := q.store.PushList(ctx, q.keys.Failed(), raw, q.failedTTL); err != nil {
		q.logger.Error("failed entry lost during replay",
			logging.Error(err),
			logging.String(logging.FieldEventType, "queue_replay_pushback_failed"),
		)
	}
}

// FailedEntries returns up to limit entries from the failed list without
// consuming them. A non-positive limit returns all entries.
func (q *TaskQueue) FailedEntries(ctx context.Context, limit int) ([]FailedEntry, error) {
	raws, err := q.store.ListRange(ctx, q.keys.Failed(), limit)
	if err != nil {
		return nil, services.Wrap(nil, "queue", "failed entries", "range list", err)
	}
	entries := make([]FailedEntry, 0, len(raws))
	for _, raw := range raws {
		var entry FailedEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			q.logger.Warn("skipping undecodable failed entry",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_failed_entry_undecodable"),
			)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// RecordStats bumps the per-source counter for status and stamps the source's
// last-update time.
func (q *TaskQueue) RecordStats(ctx context.Context, source Source, status string) error {
	if _, err := q.store.IncrementCounter(ctx, q.keys.StatsCounter(string(source), status)); err != nil {
		return services.Wrap(nil, "queue", "record stats", string(source)+"/"+status, err)
	}
	stamp := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	if err := q.store.SetWithTTL(ctx, q.keys.StatsUpdated(string(source)), stamp, 0); err != nil {
		return services.Wrap(nil, "queue", "record stats", "stamp update time", err)
	}
	return nil
}

// SourceStats reports the monotonic completion counters for one source.
type SourceStats struct {
	Source    Source
	Completed int64
	Failed    int64
	UpdatedAt time.Time
}

// Stats returns the counters recorded for source. A zero UpdatedAt means no
// status was ever recorded.
func (q *TaskQueue) Stats(ctx context.Context, source Source) (SourceStats, error) {
	stats := SourceStats{Source: source}

	completed, err := q.store.GetCounter(ctx, q.keys.StatsCounter(string(source), StatusCompleted))
	if err != nil {
		return stats, services.Wrap(nil, "queue", "stats", "completed counter", err)
	}
	failed, err := q.store.GetCounter(ctx, q.keys.StatsCounter(string(source), StatusFailed))
	if err != nil {
		return stats, services.Wrap(nil, "queue", "stats", "failed counter", err)
	}
	stats.Completed = completed
	stats.Failed = failed

	raw, ok, err := q.store.GetValue(ctx, q.keys.StatsUpdated(string(source)))
	if err != nil {
		return stats, services.Wrap(nil, "queue", "stats", "updated stamp", err)
	}
	if ok {
		if parsed, parseErr := time.Parse(time.RFC3339Nano, string(raw)); parseErr == nil {
			stats.UpdatedAt = parsed
		}
	}
	return stats, nil
}

// Depth returns the number of tasks waiting in the work list.
func (q *TaskQueue) Depth(ctx context.Context) (int64, error) {
	return q.store.ListLength(ctx, q.keys.Tasks())
}

// FailedCount returns the number of live failed entries.
func (q *TaskQueue) FailedCount(ctx context.Context) (int64, error) {
	return q.store.ListLength(ctx, q.keys.Failed())
}

// PendingIdentities returns every task identity currently in flight.
func (q *TaskQueue) PendingIdentities(ctx context.Context) ([]string, error) {
	return q.store.SetMembers(ctx, q.keys.Pending())
}

// CompletionRecord is the durable trace of a successful conversion.
type CompletionRecord struct {
	EpisodeID   string    `json:"episode_id"`
	Source      string    `json:"source"`
	Frames      int       `json:"frames"`
	CompletedAt time.Time `json:"completed_at"`
}

// RecordCompletion stores the completion trace for the task, retained as long
// as the processed record.
func (q *TaskQueue) RecordCompletion(ctx context.Context, task *ConversionTask, frames int) error {
	record := CompletionRecord{
		EpisodeID:   task.EpisodeID,
		Source:      string(task.Source),
		Frames:      frames,
		CompletedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode completion record: %w", err)
	}
	return q.store.SetWithTTL(ctx, q.keys.Done(task.Identity()), payload, q.processedTTL)
}

// FailureRecord is the durable trace of the most recent failure of a task.
type FailureRecord struct {
	EpisodeID string    `json:"episode_id"`
	Source    string    `json:"source"`
	Error     string    `json:"error"`
	FailedAt  time.Time `json:"failed_at"`
}

// RecordFailure stores the failure trace for the task, retained as long as
// failed entries.
func (q *TaskQueue) RecordFailure(ctx context.Context, task *ConversionTask, message string) error {
	record := FailureRecord{
		EpisodeID: task.EpisodeID,
		Source:    string(task.Source),
		Error:     message,
		FailedAt:  time.Now().UTC(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode failure record: %w", err)
	}
	return q.store.SetWithTTL(ctx, q.keys.Error(task.Identity()), payload, q.failedTTL)
}

// LastFailure returns the most recent failure trace for the identity, if one
// is still retained.
func (q *TaskQueue) LastFailure(ctx context.Context, source Source, episodeID string) (*FailureRecord, bool, error) {
	raw, ok, err := q.store.GetValue(ctx, q.keys.Error(string(source)+":"+episodeID))
	if err != nil || !ok {
		return nil, false, err
	}
	var record FailureRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, false, fmt.Errorf("decode failure record: %w", err)
	}
	return &record, true, nil
}
