package staging

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"loom/internal/logging"
)

// CleanupResult reports one sweep over the staging directory.
type CleanupResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes staging directories older than maxAge, whatever their
// name. It catches debris from interrupted manual runs as well as task
// directories the orphan sweep could not attribute.
func CleanStale(ctx context.Context, stagingDir string, maxAge time.Duration, logger *slog.Logger) CleanupResult {
	cutoff := time.Now().Add(-maxAge)
	return sweep(ctx, stagingDir, logger, "stale", func(entry fs.DirEntry) (bool, []any, error) {
		info, err := entry.Info()
		if err != nil {
			return false, nil, err
		}
		if !info.ModTime().Before(cutoff) {
			return false, nil, nil
		}
		return true, []any{logging.Duration("age", time.Since(info.ModTime()))}, nil
	})
}

// CleanOrphaned removes task directories whose episode is no longer pending.
// activeEpisodes holds the episode ids of tasks that are queued or running;
// a directory for any other episode belongs to a worker that died before its
// own cleanup. Names without a request id suffix are left for CleanStale.
func CleanOrphaned(ctx context.Context, stagingDir string, activeEpisodes map[string]struct{}, logger *slog.Logger) CleanupResult {
	return sweep(ctx, stagingDir, logger, "orphaned", func(entry fs.DirEntry) (bool, []any, error) {
		episodeID, ok := episodeIDFromDir(entry.Name())
		if !ok {
			return false, nil, nil
		}
		if _, active := activeEpisodes[episodeID]; active {
			return false, nil, nil
		}
		return true, []any{logging.String(logging.FieldEpisodeID, episodeID)}, nil
	})
}

// sweep walks the staging directory once and removes every subdirectory the
// classifier marks. The classifier's extra attrs land on the removal log line.
func sweep(ctx context.Context, stagingDir string, logger *slog.Logger, reason string, classify func(fs.DirEntry) (bool, []any, error)) CleanupResult {
	var result CleanupResult

	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return result
	}
	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: stagingDir, Error: err})
		}
		return result
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return result
		}
		if !entry.IsDir() {
			continue
		}
		dirPath := filepath.Join(stagingDir, entry.Name())

		remove, extra, err := classify(entry)
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			continue
		}
		if !remove {
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			if logger != nil {
				logger.Warn("failed to remove "+reason+" staging directory",
					logging.String("path", dirPath),
					logging.Error(err),
					logging.String(logging.FieldEventType, "staging_cleanup_failed"),
					logging.String(logging.FieldErrorHint, "check staging_dir permissions"),
				)
			}
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		if logger != nil {
			attrs := append([]any{
				logging.String("path", dirPath),
				logging.String(logging.FieldEventType, "staging_cleanup"),
			}, extra...)
			logger.Info("removed "+reason+" staging directory", attrs...)
		}
	}
	return result
}

// DirInfo describes one staging directory for status reporting.
type DirInfo struct {
	Name    string
	Path    string
	ModTime time.Time
	Size    int64
}

// ListDirectories returns every staging directory with its recursive size.
func ListDirectories(stagingDir string) ([]DirInfo, error) {
	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []DirInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirPath := filepath.Join(stagingDir, entry.Name())
		size, _ := dirSize(dirPath)
		dirs = append(dirs, DirInfo{
			Name:    entry.Name(),
			Path:    dirPath,
			ModTime: info.ModTime(),
			Size:    size,
		})
	}
	return dirs, nil
}

// dirSize totals the file sizes under path, best effort.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return nil
		}
		if info, err := entry.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
