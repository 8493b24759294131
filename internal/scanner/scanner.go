package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"loom/internal/config"
	"loom/internal/coordination"
	"loom/internal/logging"
	"loom/internal/objectstore"
	"loom/internal/queue"
	"loom/internal/services"
)

// Scanner discovers complete episodes under the raw prefix and publishes
// conversion tasks. All progress lives in the coordination store, so the
// daemon loop and one-shot CLI scans share the same cursor.
type Scanner struct {
	client       objectstore.Client
	tasks        *queue.TaskQueue
	store        coordination.Store
	cursorKey    string
	rawPrefix    string
	pattern      *regexp.Regexp
	requiredDirs []string
	minFileCount int
	stableTime   time.Duration
	pageSize     int
	strategy     string
	log          *slog.Logger
}

// New builds a scanner from the scanner and object-store config sections.
func New(cfg *config.Config, client objectstore.Client, tasks *queue.TaskQueue, store coordination.Store, logger *slog.Logger) (*Scanner, error) {
	pattern, err := regexp.Compile(cfg.Scanner.EpisodePattern)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "scanner", "new",
			fmt.Sprintf("episode pattern %q", cfg.Scanner.EpisodePattern), err)
	}
	pageSize := cfg.Scanner.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Scanner{
		client:       client,
		tasks:        tasks,
		store:        store,
		cursorKey:    tasks.Keys().ScanCursor(),
		rawPrefix:    cfg.ObjectStore.RawPrefix,
		pattern:      pattern,
		requiredDirs: cfg.Scanner.RequiredDirs,
		minFileCount: cfg.Scanner.MinFileCount,
		stableTime:   cfg.StableTime(),
		pageSize:     pageSize,
		strategy:     cfg.Alignment.Strategy,
		log:          logging.NewComponentLogger(logger, "scanner"),
	}, nil
}

// Summary reports one scan cycle.
type Summary struct {
	Pages      int
	Keys       int
	Candidates int
	Published  int
	Skipped    map[SkipReason]int
}

// SkippedTotal sums the skip counts across reasons.
func (s Summary) SkippedTotal() int {
	total := 0
	for _, count := range s.Skipped {
		total += count
	}
	return total
}

// Scan runs one discovery cycle: list keys after the persisted cursor, group
// them into episode candidates, and publish tasks for the complete ones. The
// cursor advances page by page so an interrupted scan resumes where it
// stopped. Candidates rejected only by the stability window rewind the
// cursor: their uploads may finish without producing any new key, so pure
// time passing must be enough to pick them up on a later cycle.
func (s *Scanner) Scan(ctx context.Context) (Summary, error) {
	summary := Summary{Skipped: make(map[SkipReason]int)}

	cursor, err := s.loadCursor(ctx)
	if err != nil {
		return summary, err
	}

	var order []string
	resume := make(map[string]string)
	prev := cursor
	last := cursor
	for {
		page, next, err := s.client.List(ctx, s.rawPrefix, last, s.pageSize)
		if err != nil {
			return summary, err
		}
		if len(page) > 0 {
			summary.Pages++
			summary.Keys += len(page)
			for _, obj := range page {
				if id, ok := s.episodeIDFromKey(obj.Key); ok {
					if _, seen := resume[id]; !seen {
						resume[id] = prev
						order = append(order, id)
					}
				}
				prev = obj.Key
			}
			last = page[len(page)-1].Key
			if err := s.saveCursor(ctx, last); err != nil {
				return summary, err
			}
		}
		if next == "" {
			break
		}
	}
	summary.Candidates = len(order)

	rewind := ""
	haveRewind := false
	now := time.Now()
	for _, id := range order {
		reason, err := s.evaluate(ctx, id, now)
		if err != nil {
			return summary, err
		}
		if reason == "" {
			summary.Published++
			continue
		}
		summary.Skipped[reason]++
		if reason == SkipStillUploading {
			if at := resume[id]; !haveRewind || at < rewind {
				rewind = at
				haveRewind = true
			}
		}
	}
	if haveRewind {
		if err := s.saveCursor(ctx, rewind); err != nil {
			return summary, err
		}
	}

	s.log.InfoContext(ctx, "scan cycle finished", logging.Args(
		logging.Int("pages", summary.Pages),
		logging.Int("keys", summary.Keys),
		logging.Int("candidates", summary.Candidates),
		logging.Int("published", summary.Published),
		logging.Int("skipped", summary.SkippedTotal()))...)
	return summary, nil
}

// evaluate checks queue state before paying for the per-candidate listing.
// An empty reason means a task was published.
func (s *Scanner) evaluate(ctx context.Context, episodeID string, now time.Time) (SkipReason, error) {
	processed, err := s.tasks.IsProcessed(ctx, queue.SourceRemote, episodeID)
	if err != nil {
		return "", err
	}
	if processed {
		return SkipAlreadyProcessed, nil
	}
	pending, err := s.tasks.IsPending(ctx, queue.SourceRemote, episodeID)
	if err != nil {
		return "", err
	}
	if pending {
		return SkipAlreadyPending, nil
	}

	candidate, err := s.inspect(ctx, episodeID)
	if err != nil {
		return "", err
	}
	if reason := s.validate(candidate, now); reason != "" {
		s.log.DebugContext(ctx, "candidate skipped", logging.Args(
			logging.String(logging.FieldEpisodeID, episodeID),
			logging.String("reason", string(reason)))...)
		return reason, nil
	}

	published, err := s.tasks.Publish(ctx, &queue.ConversionTask{
		EpisodeID: episodeID,
		Source:    queue.SourceRemote,
		Strategy:  s.strategy,
		CreatedAt: now.UTC(),
	})
	if err != nil {
		return "", err
	}
	if !published {
		return SkipAlreadyPending, nil
	}
	s.log.InfoContext(ctx, "episode published", logging.Args(
		logging.String(logging.FieldEpisodeID, episodeID),
		logging.String(logging.FieldStrategy, s.strategy))...)
	return "", nil
}

// RunLoop scans on a fixed interval until ctx is done. Scan errors are
// logged and the loop continues; only cancellation stops it.
func (s *Scanner) RunLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Scan(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.ErrorContext(ctx, "scan cycle failed", logging.Args(logging.Error(err))...)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ResetCursor clears the persisted cursor so the next scan re-lists the full
// prefix.
func (s *Scanner) ResetCursor(ctx context.Context) error {
	return s.store.Delete(ctx, s.cursorKey)
}

func (s *Scanner) loadCursor(ctx context.Context) (string, error) {
	value, ok, err := s.store.GetValue(ctx, s.cursorKey)
	if err != nil || !ok {
		return "", err
	}
	return string(value), nil
}

func (s *Scanner) saveCursor(ctx context.Context, value string) error {
	if value == "" {
		return s.store.Delete(ctx, s.cursorKey)
	}
	return s.store.SetWithTTL(ctx, s.cursorKey, []byte(value), 0)
}

func (s *Scanner) episodeIDFromKey(key string) (string, bool) {
	rel := strings.TrimPrefix(key, s.rawPrefix)
	segment, _, _ := strings.Cut(rel, "/")
	if segment == "" || !s.pattern.MatchString(segment) {
		return "", false
	}
	return segment, true
}
