package scanner

import (
	"context"
	"path"
	"strings"
	"time"

	"loom/internal/episode"
)

// SkipReason explains why a discovered candidate was not published.
type SkipReason string

const (
	SkipMissingDir       SkipReason = "missing_dir"
	SkipTooFewFiles      SkipReason = "too_few_files"
	SkipStillUploading   SkipReason = "still_uploading"
	SkipAlreadyPending   SkipReason = "already_pending"
	SkipAlreadyProcessed SkipReason = "already_processed"
)

// Candidate aggregates the listing facts completeness checks need for one
// episode. It lives for a single scan cycle.
type Candidate struct {
	EpisodeID     string
	DirFileCounts map[string]int
	LastModified  time.Time
}

// inspect lists the candidate's subtree and aggregates non-metadata file
// counts per top-level directory. The newest modification time covers every
// object, metadata included, so a late meta.json still resets the stability
// window.
func (s *Scanner) inspect(ctx context.Context, episodeID string) (Candidate, error) {
	prefix := s.rawPrefix + episodeID + "/"
	candidate := Candidate{EpisodeID: episodeID, DirFileCounts: make(map[string]int)}

	cursor := ""
	for {
		page, next, err := s.client.List(ctx, prefix, cursor, s.pageSize)
		if err != nil {
			return candidate, err
		}
		for _, obj := range page {
			if obj.LastModified.After(candidate.LastModified) {
				candidate.LastModified = obj.LastModified
			}
			rel := strings.TrimPrefix(obj.Key, prefix)
			if episode.IsMetadataName(path.Base(rel)) {
				continue
			}
			if dir, _, nested := strings.Cut(rel, "/"); nested {
				candidate.DirFileCounts[dir]++
			}
		}
		if next == "" {
			return candidate, nil
		}
		cursor = next
	}
}

// validate applies the completeness rules and returns the skip reason, empty
// when the candidate is ready. The stability window is a soft deadline
// against racing an in-progress multipart upload, not a lock.
func (s *Scanner) validate(candidate Candidate, now time.Time) SkipReason {
	for _, dir := range s.requiredDirs {
		count := candidate.DirFileCounts[dir]
		switch {
		case count == 0:
			return SkipMissingDir
		case count < s.minFileCount:
			return SkipTooFewFiles
		}
	}
	if s.stableTime > 0 && now.Sub(candidate.LastModified) < s.stableTime {
		return SkipStillUploading
	}
	return ""
}
