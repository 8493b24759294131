package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"loom/internal/config"
	"loom/internal/coordination"
	"loom/internal/logging"
	"loom/internal/objectstore"
	"loom/internal/pipeline"
	"loom/internal/preflight"
	"loom/internal/queue"
	"loom/internal/scanner"
	"loom/internal/staging"
	"loom/internal/worker"
)

// LockFileName is the flock target created under the configured log
// directory.
const LockFileName = "loomd.lock"

// maintenanceInterval paces the background purge of expired coordination
// records and stale staging directories.
const maintenanceInterval = time.Hour

// Daemon owns the long-running conversion services and enforces
// single-instance execution per host.
type Daemon struct {
	cfg     *config.Config
	log     *slog.Logger
	store   *coordination.SQLiteStore
	tasks   *queue.TaskQueue
	client  objectstore.Client
	scanner *scanner.Scanner
	pool    *worker.Pool

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	loops   sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	QueueDepth     int64
	FailedCount    int64
	StorePath      string
	LockFilePath   string
	ScannerEnabled bool
	Workers        int
}

// New wires the coordination store, task queue, optional scanner, and worker
// pool from configuration. The scanner and the remote task path are enabled
// only when an object-store endpoint is configured. The caller owns the
// returned daemon and must Close it.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires configuration and logger")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	store, err := coordination.Open(coordination.Options{
		Path:         cfg.Coordination.DBPath,
		PollInterval: time.Duration(cfg.Coordination.PollIntervalMS) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open coordination store: %w", err)
	}

	tasks := queue.New(store, queue.Options{
		Namespace:    cfg.Coordination.Namespace,
		ProcessedTTL: cfg.ProcessedTTL(),
		FailedTTL:    cfg.FailedTTL(),
	}, logger)

	var client objectstore.Client
	var scan *scanner.Scanner
	if cfg.ObjectStore.Endpoint != "" {
		minioClient, err := objectstore.NewMinIO(objectstore.MinIOOptions{
			Endpoint:  cfg.ObjectStore.Endpoint,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
			Bucket:    cfg.ObjectStore.Bucket,
			UseSSL:    cfg.ObjectStore.UseSSL,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("build object store client: %w", err)
		}
		client = minioClient
		scan, err = scanner.New(cfg, client, tasks, store, logger)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("build scanner: %w", err)
		}
	}

	lockPath := LockPath(cfg)
	return &Daemon{
		cfg:      cfg,
		log:      logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		tasks:    tasks,
		client:   client,
		scanner:  scan,
		pool:     worker.NewPool(cfg, tasks, pipeline.New(cfg, logger), client, logger),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, recovers coordination and staging state
// left by a previous crash, and launches the scan and worker loops.
// Cancelling ctx hard-interrupts in-flight conversions; Stop lets them
// drain instead.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !ok {
		return errors.New("another loom daemon instance is already running")
	}

	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)

	// Failed checks are logged rather than fatal: the store is already open
	// and a missing binary or unreachable endpoint fails per task with a
	// clearer error than a refused start.
	for _, result := range preflight.RunAll(runCtx, d.cfg) {
		if result.Passed {
			continue
		}
		d.log.Warn("preflight check failed", logging.Args(
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
		)...)
	}
	for _, status := range preflight.CheckSystemDeps(d.cfg) {
		if status.Available || status.Optional {
			continue
		}
		d.log.Warn("required binary missing", logging.Args(
			logging.String("binary", status.Name),
			logging.String("detail", status.Detail),
		)...)
	}

	// The lock guarantees no consumer is running, so a reservation without
	// a queued payload is provably orphaned.
	released, err := d.tasks.ReconcilePending(runCtx)
	if err != nil {
		d.log.Warn("pending reconciliation failed", logging.Args(logging.Error(err))...)
	} else if released > 0 {
		d.log.Info("orphaned task reservations released",
			logging.Args(logging.Int("released", released))...)
	}

	d.sweepStaging(runCtx)
	d.purgeExpired(runCtx)

	if err := d.pool.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start worker pool: %w", err)
	}

	if d.scanner != nil {
		d.loops.Add(1)
		go func() {
			defer d.loops.Done()
			err := d.scanner.RunLoop(runCtx, d.cfg.ScanInterval())
			if err != nil && !errors.Is(err, context.Canceled) {
				d.log.Error("scan loop exited", logging.Args(logging.Error(err))...)
			}
		}()
	}

	d.loops.Add(1)
	go d.maintainLoop(runCtx)

	d.cancel = cancel
	d.running.Store(true)
	d.log.Info("loom daemon started", logging.Args(
		logging.String("lock", d.lockPath),
		logging.String("store", d.store.Path()),
		logging.Bool("scanner_enabled", d.scanner != nil),
		logging.Int("workers", d.cfg.Worker.Count),
	)...)
	return nil
}

// Stop drains in-flight conversions, halts the background loops, and
// releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.pool.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.loops.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.log.Warn("failed to release daemon lock", logging.Args(logging.Error(err))...)
	}
	d.running.Store(false)
	d.log.Info("loom daemon stopped")
}

// Close stops the daemon and releases the coordination store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Queue exposes the daemon's task queue for in-process publishers.
func (d *Daemon) Queue() *queue.TaskQueue {
	return d.tasks
}

// Status reports the daemon and queue state.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	workers := d.cfg.Worker.Count
	if workers < 1 {
		workers = 1
	}
	status := Status{
		Running:        d.running.Load(),
		StorePath:      d.store.Path(),
		LockFilePath:   d.lockPath,
		ScannerEnabled: d.scanner != nil,
		Workers:        workers,
	}
	depth, err := d.tasks.Depth(ctx)
	if err != nil {
		return status, err
	}
	status.QueueDepth = depth
	failed, err := d.tasks.FailedCount(ctx)
	if err != nil {
		return status, err
	}
	status.FailedCount = failed
	return status, nil
}

// sweepStaging reclaims scratch space left behind by earlier runs:
// directories older than the staging age cap, and directories whose episode
// is no longer in flight.
func (d *Daemon) sweepStaging(ctx context.Context) {
	dir := d.cfg.Paths.StagingDir
	if dir == "" {
		return
	}
	staging.CleanStale(ctx, dir, d.cfg.StagingMaxAge(), d.log)

	identities, err := d.tasks.PendingIdentities(ctx)
	if err != nil {
		d.log.Warn("orphan sweep skipped", logging.Args(logging.Error(err))...)
		return
	}
	active := make(map[string]struct{}, len(identities))
	for _, identity := range identities {
		if _, episodeID, ok := strings.Cut(identity, ":"); ok {
			active[episodeID] = struct{}{}
		}
	}
	staging.CleanOrphaned(ctx, dir, active, d.log)
}

func (d *Daemon) purgeExpired(ctx context.Context) {
	purged, err := d.store.PurgeExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.log.Warn("expired record purge failed", logging.Args(logging.Error(err))...)
		}
		return
	}
	if purged > 0 {
		d.log.Debug("expired coordination records purged",
			logging.Args(logging.Int64("purged", purged))...)
	}
}

// maintainLoop periodically drops expired coordination records and stale
// staging directories while the daemon runs.
func (d *Daemon) maintainLoop(ctx context.Context) {
	defer d.loops.Done()
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		d.purgeExpired(ctx)
		if dir := d.cfg.Paths.StagingDir; dir != "" {
			staging.CleanStale(ctx, dir, d.cfg.StagingMaxAge(), d.log)
		}
	}
}

// LockPath returns the daemon lock file location for the configuration.
func LockPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, LockFileName)
}

// InstanceRunning reports whether a process currently holds the daemon lock
// for this configuration.
func InstanceRunning(cfg *config.Config) (bool, error) {
	lock := flock.New(LockPath(cfg))
	ok, err := lock.TryLock()
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return false, lock.Unlock()
}
