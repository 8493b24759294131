package preflight

import (
	"context"

	"loom/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks gated by configuration are only run when the feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Working directories (staging and dataset are always required)
	results = append(results, CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir))
	results = append(results, CheckDirectoryAccess("Dataset directory", cfg.Paths.DatasetDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))

	// Raw directory (when local-source conversions are configured)
	if cfg.Paths.RawDir != "" {
		results = append(results, CheckDirectoryAccess("Raw directory", cfg.Paths.RawDir))
	}

	results = append(results, CheckCoordinationStore(ctx, cfg))

	// Object store (when remote discovery is configured)
	if cfg.ObjectStore.Endpoint != "" {
		results = append(results, CheckObjectStore(ctx, cfg))
	}

	return results
}
