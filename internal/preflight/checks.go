package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"loom/internal/config"
	"loom/internal/coordination"
	"loom/internal/deps"
	"loom/internal/objectstore"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckCoordinationStore opens the queue database and runs its health probe.
// The database is opened fresh so the check works both before the daemon
// starts and alongside a running daemon (WAL permits concurrent readers).
func CheckCoordinationStore(ctx context.Context, cfg *config.Config) Result {
	const name = "Coordination store"

	store, err := coordination.Open(coordination.Options{
		Path:         cfg.Coordination.DBPath,
		PollInterval: time.Duration(cfg.Coordination.PollIntervalMS) * time.Millisecond,
	})
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	defer store.Close()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.CheckHealth(checkCtx); err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: cfg.Coordination.DBPath}
}

// CheckObjectStore verifies the remote endpoint answers a bounded listing
// under the raw prefix.
func CheckObjectStore(ctx context.Context, cfg *config.Config) Result {
	const name = "Object store"

	client, err := objectstore.NewMinIO(objectstore.MinIOOptions{
		Endpoint:  cfg.ObjectStore.Endpoint,
		AccessKey: cfg.ObjectStore.AccessKey,
		SecretKey: cfg.ObjectStore.SecretKey,
		Bucket:    cfg.ObjectStore.Bucket,
		UseSSL:    cfg.ObjectStore.UseSSL,
	})
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, _, err := client.List(checkCtx, cfg.ObjectStore.RawPrefix, "", 1); err != nil {
		return Result{Name: name, Detail: summarizeTransportError(err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("bucket %q reachable", cfg.ObjectStore.Bucket)}
}

// CheckSystemDeps evaluates the external binaries for the given config. Both
// the daemon and the CLI status command use this to avoid duplicating the
// requirements list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return deps.CheckBinaries(deps.Default(cfg.FFmpegBinary()))
}

// summarizeTransportError produces a human-readable summary for object store
// connectivity failures.
func summarizeTransportError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "listing timed out (endpoint unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "listing timed out (endpoint unreachable)"
	}
	return err.Error()
}
