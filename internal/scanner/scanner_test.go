package scanner_test

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"loom/internal/config"
	"loom/internal/objectstore"
	"loom/internal/queue"
	"loom/internal/scanner"
	"loom/internal/testsupport"
)

func newScanner(t *testing.T, cfg *config.Config) (*scanner.Scanner, *queue.TaskQueue, string) {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	tasks := queue.New(store, queue.Options{Namespace: cfg.Coordination.Namespace}, nil)
	bucketRoot := filepath.Join(testsupport.BaseDir(cfg), "bucket")
	client := objectstore.NewFSStore(bucketRoot)
	s, err := scanner.New(cfg, client, tasks, store, nil)
	if err != nil {
		t.Fatalf("scanner.New: %v", err)
	}
	return s, tasks, bucketRoot
}

// writeRemoteEpisode lays a complete episode under the raw prefix: four joint
// files and two frames, aged so the stability window does not trip.
func writeRemoteEpisode(t *testing.T, bucketRoot, episodeID string, age time.Duration) {
	t.Helper()
	base := filepath.Join(bucketRoot, "raw", episodeID)
	for _, rel := range []string{
		"joints/left_follower.jsonl",
		"joints/left_leader.jsonl",
		"joints/right_follower.jsonl",
		"joints/right_leader.jsonl",
		"images/cam_high/000000_1000.jpg",
		"images/cam_high/000001_2000.jpg",
	} {
		testsupport.WriteFileString(t, filepath.Join(base, rel), "payload")
	}
	if age > 0 {
		ageTree(t, base, age)
	}
}

func ageTree(t *testing.T, dir string, age time.Duration) {
	t.Helper()
	past := time.Now().Add(-age)
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Chtimes(path, past, past)
	})
	if err != nil {
		t.Fatalf("age %s: %v", dir, err)
	}
}

func TestScanPublishesCompleteEpisode(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Scanner.PageSize = 4
	s, tasks, bucketRoot := newScanner(t, cfg)
	writeRemoteEpisode(t, bucketRoot, "episode_0001", time.Hour)
	ctx := context.Background()

	summary, err := s.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if summary.Candidates != 1 || summary.Published != 1 {
		t.Errorf("summary = %+v, want 1 candidate published", summary)
	}
	if summary.Keys != 6 || summary.Pages != 2 {
		t.Errorf("listing stats = %d keys / %d pages, want 6 / 2", summary.Keys, summary.Pages)
	}

	task, err := tasks.Consume(ctx, time.Second)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if task == nil {
		t.Fatal("no task published")
	}
	if task.EpisodeID != "episode_0001" || task.Source != queue.SourceRemote {
		t.Errorf("task = %+v", task)
	}
	if task.Strategy != cfg.Alignment.Strategy {
		t.Errorf("task strategy = %q, want config default %q", task.Strategy, cfg.Alignment.Strategy)
	}
}

func TestScanSkipsIncompleteEpisodes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Scanner.MinFileCount = 3
	s, _, bucketRoot := newScanner(t, cfg)

	// Joints only: images/ missing entirely.
	for _, rel := range []string{"joints/left_follower.jsonl", "joints/left_leader.jsonl", "joints/right_follower.jsonl"} {
		testsupport.WriteFileString(t, filepath.Join(bucketRoot, "raw", "episode_0001", rel), "x")
	}
	// Both dirs present but images has fewer than three frames.
	writeRemoteEpisode(t, bucketRoot, "episode_0002", time.Hour)
	ageTree(t, filepath.Join(bucketRoot, "raw", "episode_0001"), time.Hour)

	summary, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if summary.Published != 0 {
		t.Errorf("published = %d, want 0", summary.Published)
	}
	if summary.Skipped[scanner.SkipMissingDir] != 1 {
		t.Errorf("missing dir skips = %d, want 1", summary.Skipped[scanner.SkipMissingDir])
	}
	if summary.Skipped[scanner.SkipTooFewFiles] != 1 {
		t.Errorf("too few file skips = %d, want 1", summary.Skipped[scanner.SkipTooFewFiles])
	}
}

func TestScanStabilityWindow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Scanner.StableTimeSeconds = 10
	s, tasks, bucketRoot := newScanner(t, cfg)
	writeRemoteEpisode(t, bucketRoot, "episode_0003", 5*time.Second)
	ctx := context.Background()

	summary, err := s.Scan(ctx)
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if summary.Published != 0 || summary.Skipped[scanner.SkipStillUploading] != 1 {
		t.Fatalf("first scan = %+v, want still-uploading skip", summary)
	}

	// No new keys arrive; the upload just gets older than the window. The
	// rewound cursor must be enough for the next cycle to pick it up.
	ageTree(t, filepath.Join(bucketRoot, "raw", "episode_0003"), 11*time.Second)
	summary, err = s.Scan(ctx)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if summary.Published != 1 {
		t.Fatalf("second scan = %+v, want publish after window", summary)
	}

	summary, err = s.Scan(ctx)
	if err != nil {
		t.Fatalf("third scan: %v", err)
	}
	if summary.Candidates != 0 {
		t.Errorf("third scan revisited %d candidates, want 0", summary.Candidates)
	}
	depth, err := tasks.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 1 {
		t.Errorf("queue depth = %d, want exactly one task", depth)
	}
}

func TestScanSkipsPendingAndProcessed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s, tasks, bucketRoot := newScanner(t, cfg)
	writeRemoteEpisode(t, bucketRoot, "episode_0004", time.Hour)
	ctx := context.Background()

	if _, err := tasks.Publish(ctx, &queue.ConversionTask{EpisodeID: "episode_0004", Source: queue.SourceRemote}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	summary, err := s.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if summary.Skipped[scanner.SkipAlreadyPending] != 1 {
		t.Errorf("pending skips = %d, want 1", summary.Skipped[scanner.SkipAlreadyPending])
	}

	if _, err := tasks.Consume(ctx, time.Second); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := tasks.MarkProcessed(ctx, queue.SourceRemote, "episode_0004"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if err := s.ResetCursor(ctx); err != nil {
		t.Fatalf("ResetCursor: %v", err)
	}
	summary, err = s.Scan(ctx)
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if summary.Skipped[scanner.SkipAlreadyProcessed] != 1 {
		t.Errorf("processed skips = %d, want 1", summary.Skipped[scanner.SkipAlreadyProcessed])
	}
	if summary.Published != 0 {
		t.Errorf("published = %d after processing, want 0", summary.Published)
	}
}

func TestScanCursorSkipsSeenKeys(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s, _, bucketRoot := newScanner(t, cfg)
	writeRemoteEpisode(t, bucketRoot, "episode_0001", time.Hour)
	ctx := context.Background()

	if _, err := s.Scan(ctx); err != nil {
		t.Fatalf("first scan: %v", err)
	}

	writeRemoteEpisode(t, bucketRoot, "episode_0002", time.Hour)
	summary, err := s.Scan(ctx)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if summary.Keys != 6 {
		t.Errorf("second scan listed %d keys, want only the 6 new ones", summary.Keys)
	}
	if summary.Candidates != 1 || summary.Published != 1 {
		t.Errorf("second scan = %+v, want only the new episode", summary)
	}
}

func TestScanIgnoresForeignKeys(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s, _, bucketRoot := newScanner(t, cfg)
	testsupport.WriteFileString(t, filepath.Join(bucketRoot, "raw", "notes.txt"), "x")
	testsupport.WriteFileString(t, filepath.Join(bucketRoot, "raw", "tmp_123", "file"), "x")
	testsupport.WriteFileString(t, filepath.Join(bucketRoot, "other", "episode_0009", "joints", "a.jsonl"), "x")

	summary, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if summary.Candidates != 0 {
		t.Errorf("candidates = %d, want 0", summary.Candidates)
	}
	if summary.Keys != 2 {
		t.Errorf("keys = %d, want 2 under the raw prefix", summary.Keys)
	}
}

func TestResetCursorRelistsWithoutRepublishing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s, tasks, bucketRoot := newScanner(t, cfg)
	writeRemoteEpisode(t, bucketRoot, "episode_0005", time.Hour)
	ctx := context.Background()

	if _, err := s.Scan(ctx); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if err := s.ResetCursor(ctx); err != nil {
		t.Fatalf("ResetCursor: %v", err)
	}
	summary, err := s.Scan(ctx)
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if summary.Keys != 6 {
		t.Errorf("rescan listed %d keys, want full listing", summary.Keys)
	}
	if summary.Published != 0 || summary.Skipped[scanner.SkipAlreadyPending] != 1 {
		t.Errorf("rescan = %+v, want pending skip only", summary)
	}
	depth, err := tasks.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 1 {
		t.Errorf("queue depth = %d, want 1", depth)
	}
}

func TestRunLoopStopsOnCancel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s, _, _ := newScanner(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.RunLoop(ctx, 10*time.Millisecond)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunLoop returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunLoop did not stop after cancellation")
	}
}
