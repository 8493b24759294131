package queue_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"loom/internal/coordination"
	"loom/internal/logging"
	"loom/internal/queue"
	"loom/internal/testsupport"
)

func newQueue(t *testing.T) (*queue.TaskQueue, *coordination.SQLiteStore) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	q := queue.New(store, queue.Options{Namespace: cfg.Coordination.Namespace}, logging.NewNop())
	return q, store
}

func sampleTask(episodeID string) *queue.ConversionTask {
	return &queue.ConversionTask{
		EpisodeID: episodeID,
		Source:    queue.SourceRemote,
		Strategy:  queue.StrategyNearest,
	}
}

func TestPublishDedupesPendingTasks(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	published, err := q.Publish(ctx, sampleTask("episode_0001"))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !published {
		t.Fatal("first publish reported duplicate")
	}

	published, err = q.Publish(ctx, sampleTask("episode_0001"))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if published {
		t.Fatal("second publish of same identity succeeded, want dedup")
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("depth = %d after duplicate publish, want 1", depth)
	}
	pending, err := q.PendingIdentities(ctx)
	if err != nil {
		t.Fatalf("PendingIdentities: %v", err)
	}
	if len(pending) != 1 || pending[0] != "remote:episode_0001" {
		t.Fatalf("pending = %v, want [remote:episode_0001]", pending)
	}
}

func TestPublishAllowsDistinctSources(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	local := sampleTask("episode_0001")
	local.Source = queue.SourceLocal
	for _, task := range []*queue.ConversionTask{sampleTask("episode_0001"), local} {
		published, err := q.Publish(ctx, task)
		if err != nil {
			t.Fatalf("Publish(%s): %v", task.Identity(), err)
		}
		if !published {
			t.Fatalf("publish of %s reported duplicate", task.Identity())
		}
	}

	depth, err := q.Depth(ctx)
	if err != nil || depth != 2 {
		t.Fatalf("depth = %d, %v, want 2", depth, err)
	}
}

func TestConsumeRoundTripsWireFormat(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	task := sampleTask("episode_0042")
	task.ConfigOverrides = map[string]string{"tolerance_ms": "15"}
	task.CreatedAt = time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	if _, err := q.Publish(ctx, task); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got, err := q.Consume(ctx, time.Second)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if got == nil {
		t.Fatal("Consume returned nil task")
	}
	if got.EpisodeID != task.EpisodeID || got.Source != task.Source || got.Strategy != task.Strategy {
		t.Fatalf("task = %+v, want %+v", got, task)
	}
	if got.ConfigOverrides["tolerance_ms"] != "15" {
		t.Fatalf("overrides = %v, want tolerance_ms=15", got.ConfigOverrides)
	}
	if !got.CreatedAt.Equal(task.CreatedAt) {
		t.Fatalf("created = %v, want %v", got.CreatedAt, task.CreatedAt)
	}
}

func TestWireFormatKeys(t *testing.T) {
	task := sampleTask("episode_0007")
	payload, err := task.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var wire map[string]json.RawMessage
	if err := json.Unmarshal(payload, &wire); err != nil {
		t.Fatalf("unmarshal wire payload: %v", err)
	}
	for _, key := range []string{"episode_id", "source", "strategy", "config_overrides", "timestamp"} {
		if _, ok := wire[key]; !ok {
			t.Fatalf("wire payload missing key %q: %s", key, payload)
		}
	}
	if len(wire) != 5 {
		t.Fatalf("wire payload has %d keys, want 5: %s", len(wire), payload)
	}
}

func TestTaskValidation(t *testing.T) {
	cases := []struct {
		name string
		task queue.ConversionTask
		ok   bool
	}{
		{"valid", queue.ConversionTask{EpisodeID: "episode_0001", Source: queue.SourceRemote}, true},
		{"empty id", queue.ConversionTask{Source: queue.SourceRemote}, false},
		{"traversal id", queue.ConversionTask{EpisodeID: "../escape", Source: queue.SourceLocal}, false},
		{"uppercase id", queue.ConversionTask{EpisodeID: "Episode_0001", Source: queue.SourceRemote}, false},
		{"bad source", queue.ConversionTask{EpisodeID: "episode_0001", Source: "ftp"}, false},
		{"bad strategy", queue.ConversionTask{EpisodeID: "episode_0001", Source: queue.SourceRemote, Strategy: "linear"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.task.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("Validate accepted an invalid task")
			}
		})
	}
}

func TestConsumeTimesOutEmpty(t *testing.T) {
	q, _ := newQueue(t)

	task, err := q.Consume(context.Background(), 30*time.Millisecond)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if task != nil {
		t.Fatalf("task = %+v on empty queue, want nil", task)
	}
}

func TestConsumeShuntsMalformedPayloads(t *testing.T) {
	q, store := newQueue(t)
	ctx := context.Background()

	keys := q.Keys()
	if err := store.PushList(ctx, keys.Tasks(), []byte("{not json"), 0); err != nil {
		t.Fatalf("PushList: %v", err)
	}

	task, err := q.Consume(ctx, time.Second)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if task != nil {
		t.Fatalf("task = %+v for malformed payload, want nil", task)
	}

	entries, err := q.FailedEntries(ctx, 0)
	if err != nil {
		t.Fatalf("FailedEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("failed entries = %d, want 1", len(entries))
	}
	if string(entries[0].Task) != "{not json" {
		t.Fatalf("failed entry task = %q, want original payload", entries[0].Task)
	}
	if entries[0].Error == "" {
		t.Fatal("failed entry has no error text")
	}

	depth, err := q.Depth(ctx)
	if err != nil || depth != 0 {
		t.Fatalf("depth = %d, %v after shunt, want 0", depth, err)
	}
}

func TestMarkProcessedReleasesPending(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	task := sampleTask("episode_0001")
	if _, err := q.Publish(ctx, task); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := q.MarkProcessed(ctx, task.Source, task.EpisodeID); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	processed, err := q.IsProcessed(ctx, task.Source, task.EpisodeID)
	if err != nil || !processed {
		t.Fatalf("IsProcessed = %v, %v, want true", processed, err)
	}
	pending, err := q.IsPending(ctx, task.Source, task.EpisodeID)
	if err != nil || pending {
		t.Fatalf("IsPending = %v, %v after processed, want false", pending, err)
	}

	// Identity is free again, so a republish is accepted; the worker's
	// processed short-circuit is what prevents double conversion.
	published, err := q.Publish(ctx, sampleTask("episode_0001"))
	if err != nil || !published {
		t.Fatalf("republish after processed = %v, %v, want true", published, err)
	}
}

func TestMoveToFailedKeepsOriginalTask(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	task := sampleTask("episode_0009")
	if _, err := q.Publish(ctx, task); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	consumed, err := q.Consume(ctx, time.Second)
	if err != nil || consumed == nil {
		t.Fatalf("Consume = %+v, %v", consumed, err)
	}

	if err := q.MoveToFailed(ctx, consumed, "pipeline exploded"); err != nil {
		t.Fatalf("MoveToFailed: %v", err)
	}

	entries, err := q.FailedEntries(ctx, 0)
	if err != nil {
		t.Fatalf("FailedEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("failed entries = %d, want 1", len(entries))
	}
	if entries[0].Error != "pipeline exploded" {
		t.Fatalf("entry error = %q", entries[0].Error)
	}
	recovered, err := entries[0].DecodeTask()
	if err != nil {
		t.Fatalf("DecodeTask: %v", err)
	}
	if recovered.EpisodeID != task.EpisodeID || recovered.Source != task.Source {
		t.Fatalf("recovered task = %+v, want %+v", recovered, task)
	}

	pending, err := q.IsPending(ctx, task.Source, task.EpisodeID)
	if err != nil || pending {
		t.Fatalf("IsPending = %v, %v after failure, want false", pending, err)
	}
}

func TestRequeueConsumedFirst(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	if _, err := q.Publish(ctx, sampleTask("episode_0001")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	crashSurvivor := sampleTask("episode_0002")
	if err := q.Requeue(ctx, crashSurvivor); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	first, err := q.Consume(ctx, time.Second)
	if err != nil || first == nil {
		t.Fatalf("Consume = %+v, %v", first, err)
	}
	if first.EpisodeID != "episode_0002" {
		t.Fatalf("first consumed = %s, want requeued episode_0002", first.EpisodeID)
	}
}

func TestReconcilePendingReleasesOrphanedReservations(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	if _, err := q.Publish(ctx, sampleTask("episode_0001")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := q.Publish(ctx, sampleTask("episode_0002")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// A consumer pops episode_0001 and dies without requeueing it.
	consumed, err := q.Consume(ctx, time.Second)
	if err != nil || consumed == nil {
		t.Fatalf("Consume = %+v, %v", consumed, err)
	}
	if consumed.EpisodeID != "episode_0001" {
		t.Fatalf("consumed = %s, want episode_0001", consumed.EpisodeID)
	}

	released, err := q.ReconcilePending(ctx)
	if err != nil {
		t.Fatalf("ReconcilePending: %v", err)
	}
	if released != 1 {
		t.Fatalf("released = %d, want 1", released)
	}

	// episode_0002 is still queued, so its reservation must survive.
	stillPending, err := q.IsPending(ctx, queue.SourceRemote, "episode_0002")
	if err != nil {
		t.Fatalf("IsPending: %v", err)
	}
	if !stillPending {
		t.Fatal("queued task lost its pending reservation")
	}

	// The lost episode can be published again.
	published, err := q.Publish(ctx, sampleTask("episode_0001"))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !published {
		t.Fatal("publish after reconcile reported duplicate")
	}
}

func TestReplayFailedIsDedupSafe(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	// episode_0001 fails and lands in the failed list.
	failing := sampleTask("episode_0001")
	if _, err := q.Publish(ctx, failing); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	consumed, err := q.Consume(ctx, time.Second)
	if err != nil || consumed == nil {
		t.Fatalf("Consume = %+v, %v", consumed, err)
	}
	if err := q.MoveToFailed(ctx, consumed, "boom"); err != nil {
		t.Fatalf("MoveToFailed: %v", err)
	}

	// episode_0001 is also republished and stays in flight.
	if _, err := q.Publish(ctx, sampleTask("episode_0001")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	replayed, err := q.ReplayFailed(ctx)
	if err != nil {
		t.Fatalf("ReplayFailed: %v", err)
	}
	if replayed != 0 {
		t.Fatalf("replayed = %d with task in flight, want 0", replayed)
	}

	pending, err := q.PendingIdentities(ctx)
	if err != nil {
		t.Fatalf("PendingIdentities: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %v after replay, want single identity", pending)
	}
	depth, err := q.Depth(ctx)
	if err != nil || depth != 1 {
		t.Fatalf("depth = %d, %v after replay, want 1", depth, err)
	}
	failedCount, err := q.FailedCount(ctx)
	if err != nil || failedCount != 0 {
		t.Fatalf("failed count = %d, %v after replay, want 0", failedCount, err)
	}
}

func TestReplayFailedRepublishesIdleTasks(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	for _, id := range []string{"episode_0001", "episode_0002"} {
		task := sampleTask(id)
		if _, err := q.Publish(ctx, task); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		consumed, err := q.Consume(ctx, time.Second)
		if err != nil || consumed == nil {
			t.Fatalf("Consume = %+v, %v", consumed, err)
		}
		if err := q.MoveToFailed(ctx, consumed, "boom"); err != nil {
			t.Fatalf("MoveToFailed: %v", err)
		}
	}

	replayed, err := q.ReplayFailed(ctx)
	if err != nil {
		t.Fatalf("ReplayFailed: %v", err)
	}
	if replayed != 2 {
		t.Fatalf("replayed = %d, want 2", replayed)
	}
	depth, err := q.Depth(ctx)
	if err != nil || depth != 2 {
		t.Fatalf("depth = %d, %v, want 2", depth, err)
	}
}

func TestStatsCounters(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	before, err := q.Stats(ctx, queue.SourceRemote)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if before.Completed != 0 || before.Failed != 0 || !before.UpdatedAt.IsZero() {
		t.Fatalf("fresh stats = %+v, want zeros", before)
	}

	for i := 0; i < 3; i++ {
		if err := q.RecordStats(ctx, queue.SourceRemote, queue.StatusCompleted); err != nil {
			t.Fatalf("RecordStats: %v", err)
		}
	}
	if err := q.RecordStats(ctx, queue.SourceRemote, queue.StatusFailed); err != nil {
		t.Fatalf("RecordStats: %v", err)
	}

	stats, err := q.Stats(ctx, queue.SourceRemote)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Completed != 3 || stats.Failed != 1 {
		t.Fatalf("stats = %+v, want completed=3 failed=1", stats)
	}
	if stats.UpdatedAt.IsZero() {
		t.Fatal("stats UpdatedAt not stamped")
	}

	other, err := q.Stats(ctx, queue.SourceLocal)
	if err != nil {
		t.Fatalf("Stats(local): %v", err)
	}
	if other.Completed != 0 || other.Failed != 0 {
		t.Fatalf("local stats = %+v, want untouched", other)
	}
}

func TestCompletionAndFailureRecords(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	task := sampleTask("episode_0003")
	if err := q.RecordCompletion(ctx, task, 128); err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}
	if err := q.RecordFailure(ctx, task, "camera stream truncated"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	record, ok, err := q.LastFailure(ctx, task.Source, task.EpisodeID)
	if err != nil {
		t.Fatalf("LastFailure: %v", err)
	}
	if !ok {
		t.Fatal("failure record missing")
	}
	if record.Error != "camera stream truncated" || record.EpisodeID != task.EpisodeID {
		t.Fatalf("failure record = %+v", record)
	}
	if record.FailedAt.IsZero() {
		t.Fatal("failure record missing timestamp")
	}
}
