package objectstore

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"loom/internal/logging"
	"loom/internal/services"
)

// TransferOptions tunes the mirror helpers.
type TransferOptions struct {
	// Workers bounds the transfer sub-pool; values below one mean serial.
	Workers int
	// Retry applies per file.
	Retry RetryPolicy
	// Rename remaps an object's prefix-relative path before it is written
	// locally. Returning "" discards the file. Nil keeps the remote layout.
	Rename func(rel string) string
	// ForceUpload marks prefix-relative paths that MirrorUp must upload even
	// when the stored size matches. Small metadata files can change contents
	// without changing size, so a size check alone would leave them stale.
	ForceUpload func(rel string) bool
	Logger      *slog.Logger
}

// TransferSummary reports what a mirror moved. Files counts transferred
// files; Skipped counts uploads avoided because the object already existed
// with a matching size.
type TransferSummary struct {
	Files   int
	Bytes   int64
	Skipped int
}

type transferJob struct {
	key   string
	local string
	size  int64
	force bool
}

// MirrorDown downloads every object under prefix into dst, preserving the
// prefix-relative layout. Each file downloads with bounded retries, and the
// result is verified by comparing local sizes against the listing.
func MirrorDown(ctx context.Context, client Client, prefix, dst string, opts TransferOptions) (TransferSummary, error) {
	log := logging.NewComponentLogger(opts.Logger, "transfer")

	objects, err := listAll(ctx, client, prefix)
	if err != nil {
		return TransferSummary{}, err
	}
	jobs := make([]transferJob, 0, len(objects))
	for _, object := range objects {
		rel := strings.TrimPrefix(object.Key, prefix)
		if rel == "" {
			continue
		}
		if opts.Rename != nil {
			if rel = opts.Rename(rel); rel == "" {
				continue
			}
		}
		jobs = append(jobs, transferJob{
			key:   object.Key,
			local: filepath.Join(dst, filepath.FromSlash(rel)),
			size:  object.Size,
		})
	}
	if len(jobs) == 0 {
		return TransferSummary{}, services.Wrap(services.ErrNotFound, "objectstore", "mirror down",
			"no objects under "+prefix, nil)
	}

	err = runTransfers(ctx, opts.Workers, jobs, func(ctx context.Context, job transferJob) error {
		return opts.Retry.Do(ctx, func() error {
			return client.GetToFile(ctx, job.key, job.local)
		})
	})
	if err != nil {
		return TransferSummary{}, err
	}

	var summary TransferSummary
	for _, job := range jobs {
		info, err := os.Stat(job.local)
		if err != nil {
			return summary, services.Wrap(services.ErrTransport, "objectstore", "mirror down",
				"verify "+job.key, err)
		}
		if info.Size() != job.size {
			return summary, services.Wrap(services.ErrTransport, "objectstore", "mirror down",
				fmt.Sprintf("size mismatch for %s: stored %d bytes, local %d", job.key, job.size, info.Size()), nil)
		}
		summary.Files++
		summary.Bytes += info.Size()
	}
	log.Debug("mirror down complete", logging.Args(
		logging.String("prefix", prefix),
		logging.Int("files", summary.Files),
		logging.Int64("bytes", summary.Bytes))...)
	return summary, nil
}

// MirrorUp uploads every file under src to prefix. Objects that already exist
// with a matching size are skipped, so re-running a partially completed
// upload transfers only what is missing. The result is verified against a
// fresh listing.
func MirrorUp(ctx context.Context, client Client, src, prefix string, opts TransferOptions) (TransferSummary, error) {
	log := logging.NewComponentLogger(opts.Logger, "transfer")

	var jobs []transferJob
	err := filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		slashRel := filepath.ToSlash(rel)
		jobs = append(jobs, transferJob{
			key:   prefix + slashRel,
			local: path,
			size:  info.Size(),
			force: opts.ForceUpload != nil && opts.ForceUpload(slashRel),
		})
		return nil
	})
	if err != nil {
		return TransferSummary{}, services.Wrap(services.ErrTransport, "objectstore", "mirror up", src, err)
	}
	if len(jobs) == 0 {
		return TransferSummary{}, services.Wrap(services.ErrNotFound, "objectstore", "mirror up",
			"no files under "+src, nil)
	}

	existing, err := listSizes(ctx, client, prefix)
	if err != nil {
		return TransferSummary{}, err
	}

	var summary TransferSummary
	pending := make([]transferJob, 0, len(jobs))
	for _, job := range jobs {
		if size, ok := existing[job.key]; ok && size == job.size && !job.force {
			summary.Skipped++
			continue
		}
		pending = append(pending, job)
	}

	err = runTransfers(ctx, opts.Workers, pending, func(ctx context.Context, job transferJob) error {
		return opts.Retry.Do(ctx, func() error {
			return client.PutFromFile(ctx, job.local, job.key)
		})
	})
	if err != nil {
		return summary, err
	}

	stored, err := listSizes(ctx, client, prefix)
	if err != nil {
		return summary, err
	}
	for _, job := range pending {
		size, ok := stored[job.key]
		if !ok {
			return summary, services.Wrap(services.ErrTransport, "objectstore", "mirror up",
				"object missing after upload: "+job.key, nil)
		}
		if size != job.size {
			return summary, services.Wrap(services.ErrTransport, "objectstore", "mirror up",
				fmt.Sprintf("size mismatch for %s: local %d bytes, stored %d", job.key, job.size, size), nil)
		}
		summary.Files++
		summary.Bytes += size
	}
	log.Debug("mirror up complete", logging.Args(
		logging.String("prefix", prefix),
		logging.Int("files", summary.Files),
		logging.Int("skipped", summary.Skipped),
		logging.Int64("bytes", summary.Bytes))...)
	return summary, nil
}

// runTransfers fans jobs out to a bounded pool and returns the first error.
// A failure cancels the remaining transfers.
func runTransfers(ctx context.Context, workers int, jobs []transferJob, run func(context.Context, transferJob) error) error {
	if len(jobs) == 0 {
		return ctx.Err()
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan transferJob)
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				if runCtx.Err() != nil {
					return
				}
				if err := run(runCtx, job); err != nil {
					select {
					case errs <- err:
					default:
					}
					cancel()
					return
				}
			}
		}()
	}

feed:
	for _, job := range jobs {
		select {
		case queue <- job:
		case <-runCtx.Done():
			break feed
		}
	}
	close(queue)
	wg.Wait()

	select {
	case err := <-errs:
		return err
	default:
	}
	return ctx.Err()
}
