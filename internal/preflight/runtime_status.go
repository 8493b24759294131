package preflight

import (
	"context"
	"strings"

	"loom/internal/config"
)

// CheckObjectStoreFromConfig evaluates object store status from config and
// connectivity, for status output.
func CheckObjectStoreFromConfig(cfg *config.Config) Result {
	const name = "Object store"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if strings.TrimSpace(cfg.ObjectStore.Endpoint) == "" {
		return Result{Name: name, Detail: "Not configured"}
	}
	if strings.TrimSpace(cfg.ObjectStore.Bucket) == "" {
		return Result{Name: name, Detail: "Missing bucket"}
	}
	return CheckObjectStore(context.Background(), cfg)
}

// CheckFFmpegFromConfig evaluates the encoder binary for status output.
func CheckFFmpegFromConfig(cfg *config.Config) Result {
	const name = "FFmpeg"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	status := CheckSystemDeps(cfg)[0]
	if status.Available {
		return Result{Name: name, Passed: true, Detail: status.Command}
	}
	return Result{Name: name, Detail: status.Detail}
}
