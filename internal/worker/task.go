package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"loom/internal/logging"
	"loom/internal/objectstore"
	"loom/internal/pipeline"
	"loom/internal/queue"
	"loom/internal/services"
	"loom/internal/staging"
)

// process runs one task end to end: duplicate check, optional staging,
// conversion, then queue bookkeeping. It returns an error only when shutdown
// interrupted the task; every other failure is recorded and dead-lettered
// here so the slot keeps consuming.
func (p *Pool) process(ctx context.Context, slot int, task *queue.ConversionTask) error {
	requestID := uuid.NewString()
	ctx = services.WithWorkerID(ctx, slot)
	ctx = services.WithRequestID(ctx, requestID)
	ctx = services.WithEpisodeID(ctx, task.EpisodeID)
	ctx = services.WithSource(ctx, string(task.Source))

	log := p.log.With(
		logging.Int(logging.FieldWorkerID, slot),
		logging.String(logging.FieldCorrelationID, requestID),
		logging.String(logging.FieldEpisodeID, task.EpisodeID),
		logging.String(logging.FieldSource, string(task.Source)),
	)

	processed, err := p.tasks.IsProcessed(ctx, task.Source, task.EpisodeID)
	if err != nil {
		if interrupted(ctx, err) {
			p.requeue(ctx, log, task)
			return err
		}
		p.fail(ctx, log, task, err)
		return nil
	}
	if processed {
		// Duplicate delivery of finished work. The first completion already
		// recorded stats; only the pending reservation needs releasing.
		log.Info("episode already processed",
			logging.Args(logging.String(logging.FieldEventType, "task_skipped"))...)
		if err := p.tasks.MarkProcessed(ctx, task.Source, task.EpisodeID); err != nil {
			log.Warn("release pending reservation", logging.Args(logging.Error(err))...)
		}
		return nil
	}

	log.Info("task started", logging.Args(logging.String(logging.FieldStrategy, task.Strategy))...)

	summary, err := p.runConversion(ctx, log, task, requestID)
	if err != nil {
		if interrupted(ctx, err) {
			log.Info("task interrupted by shutdown",
				logging.Args(logging.String(logging.FieldEventType, "task_interrupted"))...)
			p.requeue(ctx, log, task)
			return err
		}
		p.fail(ctx, log, task, err)
		return nil
	}

	if err := p.tasks.MarkProcessed(ctx, task.Source, task.EpisodeID); err != nil {
		// The episode is committed; replay converges because the dataset
		// commit is idempotent.
		p.fail(ctx, log, task, err)
		return nil
	}
	if err := p.tasks.RecordStats(ctx, task.Source, queue.StatusCompleted); err != nil {
		log.Warn("record completion stats", logging.Args(logging.Error(err))...)
	}
	if err := p.tasks.RecordCompletion(ctx, task, summary.Frames); err != nil {
		log.Warn("record completion detail", logging.Args(logging.Error(err))...)
	}

	log.Info("task completed", logging.Args(
		logging.String(logging.FieldStrategy, summary.Strategy),
		logging.Int64("episode_index", summary.EpisodeIndex),
		logging.Int("frames", summary.Frames),
		logging.Bool("already_committed", summary.AlreadyCommitted),
		logging.String(logging.FieldEventType, "task_completed"))...)
	return nil
}

// interrupted reports whether err is the task context dying rather than a
// task-level failure. Tools killed by cancellation surface their own error
// types, so the context is checked alongside the error chain.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

// requeue puts an interrupted task back at the front of the work list. The
// pending reservation is untouched, so no duplicate can be published while
// the task waits for the next daemon run.
func (p *Pool) requeue(ctx context.Context, log *slog.Logger, task *queue.ConversionTask) {
	if err := p.tasks.Requeue(context.WithoutCancel(ctx), task); err != nil {
		log.Error("requeue interrupted task",
			logging.Args(
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "republish the episode manually"))...)
		return
	}
	log.Info("task requeued", logging.Args(logging.String(logging.FieldEventType, "task_requeued"))...)
}

// fail records the failure and dead-letters the task.
func (p *Pool) fail(ctx context.Context, log *slog.Logger, task *queue.ConversionTask, cause error) {
	log.Error("task failed",
		logging.Args(
			logging.Error(cause),
			logging.Bool("retryable", services.Retryable(cause)),
			logging.String(logging.FieldEventType, "task_failed"))...)

	if err := p.tasks.RecordStats(ctx, task.Source, queue.StatusFailed); err != nil {
		log.Warn("record failure stats", logging.Args(logging.Error(err))...)
	}
	if err := p.tasks.RecordFailure(ctx, task, cause.Error()); err != nil {
		log.Warn("record failure detail", logging.Args(logging.Error(err))...)
	}
	if err := p.tasks.MoveToFailed(ctx, task, cause.Error()); err != nil {
		log.Error("move task to failed list", logging.Args(logging.Error(err))...)
	}
}

func (p *Pool) runConversion(ctx context.Context, log *slog.Logger, task *queue.ConversionTask, requestID string) (pipeline.Summary, error) {
	if task.Source == queue.SourceRemote {
		return p.convertRemote(ctx, log, task, requestID)
	}
	return p.convert.Convert(ctx, filepath.Join(p.cfg.Paths.RawDir, task.EpisodeID), task)
}

// convertRemote stages the episode tree out of the object store, converts the
// staged copy, and mirrors the dataset back up. The staging directory is
// removed no matter how the task ends.
func (p *Pool) convertRemote(ctx context.Context, log *slog.Logger, task *queue.ConversionTask, requestID string) (pipeline.Summary, error) {
	if p.client == nil {
		return pipeline.Summary{}, services.Wrap(services.ErrConfiguration, "worker", "stage episode",
			"remote task without an object store client", nil)
	}
	if err := p.ensureFreeSpace(); err != nil {
		return pipeline.Summary{}, err
	}

	stageDir := staging.TaskDir(p.cfg.Paths.StagingDir, task.EpisodeID, requestID)
	defer func() {
		if err := os.RemoveAll(stageDir); err != nil {
			log.Warn("remove staging directory",
				logging.Args(logging.String("path", stageDir), logging.Error(err))...)
		}
	}()

	opts := objectstore.TransferOptions{
		Workers: p.cfg.ObjectStore.TransferWorkers,
		Retry: objectstore.RetryPolicy{
			Attempts: p.cfg.ObjectStore.RetryAttempts,
			Delay:    p.cfg.RetryDelay(),
		},
		Logger: log,
	}

	prefix := p.cfg.ObjectStore.RawPrefix + task.EpisodeID + "/"
	down, err := objectstore.MirrorDown(ctx, p.client, prefix, stageDir, opts)
	if err != nil {
		return pipeline.Summary{}, err
	}
	log.Info("episode staged", logging.Args(
		logging.Int("files", down.Files),
		logging.Int64("bytes", down.Bytes),
		logging.String("path", stageDir))...)

	summary, err := p.convert.Convert(ctx, stageDir, task)
	if err != nil {
		return summary, err
	}

	if remote := strings.TrimSpace(p.cfg.ObjectStore.DatasetPrefix); remote != "" {
		opts.ForceUpload = isDatasetMetadata
		up, err := objectstore.MirrorUp(ctx, p.client, p.cfg.Paths.DatasetDir, remote, opts)
		if err != nil {
			return summary, err
		}
		log.Info("dataset mirrored", logging.Args(
			logging.Int("files", up.Files),
			logging.Int("skipped", up.Skipped),
			logging.Int64("bytes", up.Bytes))...)
	}
	return summary, nil
}

// isDatasetMetadata matches the JSON files the dataset writer rewrites on
// every commit. Their size can stay constant across commits, so the
// size-match upload skip would leave stale copies remotely.
func isDatasetMetadata(rel string) bool {
	return strings.HasPrefix(rel, "meta/")
}
