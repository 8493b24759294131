package config

import (
	"fmt"
	"regexp"
	"strings"
)

var validStrategies = map[string]bool{
	"nearest":  true,
	"window":   true,
	"chunking": true,
}

var validWindowAggs = map[string]bool{
	"mean":   true,
	"median": true,
}

var validPaddingModes = map[string]bool{
	"repeat": true,
	"zero":   true,
	"drop":   true,
}

// Validate checks the configuration for invalid or missing values.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		problems = append(problems, "paths.staging_dir is required")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir is required")
	}
	if strings.TrimSpace(c.Coordination.DBPath) == "" {
		problems = append(problems, "coordination.db_path is required")
	}
	if strings.TrimSpace(c.Coordination.Namespace) == "" {
		problems = append(problems, "coordination.namespace is required")
	}
	if c.Coordination.ProcessedTTLDays <= 0 {
		problems = append(problems, "coordination.processed_ttl_days must be positive")
	}
	if c.Coordination.FailedTTLDays <= 0 {
		problems = append(problems, "coordination.failed_ttl_days must be positive")
	}
	if c.Coordination.ConsumeTimeoutSeconds <= 0 {
		problems = append(problems, "coordination.consume_timeout_seconds must be positive")
	}
	if c.Coordination.PollIntervalMS <= 0 {
		problems = append(problems, "coordination.poll_interval_ms must be positive")
	}

	if c.ObjectStore.RetryAttempts < 1 {
		problems = append(problems, "object_store.retry_attempts must be at least 1")
	}
	if c.ObjectStore.RetryDelaySeconds < 0 {
		problems = append(problems, "object_store.retry_delay_seconds must not be negative")
	}
	if c.ObjectStore.TransferWorkers < 1 {
		problems = append(problems, "object_store.transfer_workers must be at least 1")
	}
	if strings.TrimSpace(c.ObjectStore.Endpoint) != "" && strings.TrimSpace(c.ObjectStore.Bucket) == "" {
		problems = append(problems, "object_store.bucket is required when an endpoint is set")
	}

	if c.Scanner.IntervalSeconds <= 0 {
		problems = append(problems, "scanner.interval_seconds must be positive")
	}
	if c.Scanner.StableTimeSeconds < 0 {
		problems = append(problems, "scanner.stable_time_seconds must not be negative")
	}
	if c.Scanner.MinFileCount < 0 {
		problems = append(problems, "scanner.min_file_count must not be negative")
	}
	if c.Scanner.PageSize < 1 {
		problems = append(problems, "scanner.page_size must be at least 1")
	}
	if _, err := regexp.Compile(c.Scanner.EpisodePattern); err != nil {
		problems = append(problems, fmt.Sprintf("scanner.episode_pattern is not a valid regular expression: %v", err))
	}

	if c.Worker.Count < 1 {
		problems = append(problems, "worker.count must be at least 1")
	}
	if c.Worker.MinFreeSpaceGiB < 0 {
		problems = append(problems, "worker.min_free_space_gib must not be negative")
	}
	if c.Worker.StagingMaxAgeHours < 1 {
		problems = append(problems, "worker.staging_max_age_hours must be at least 1")
	}

	if !validStrategies[c.Alignment.Strategy] {
		problems = append(problems, fmt.Sprintf("alignment.strategy must be one of nearest, window, chunking (got %q)", c.Alignment.Strategy))
	}
	if c.Alignment.FPS <= 0 {
		problems = append(problems, "alignment.fps must be positive")
	}
	if c.Alignment.ToleranceMS < 0 {
		problems = append(problems, "alignment.tolerance_ms must not be negative")
	}
	if c.Alignment.WindowMS <= 0 {
		problems = append(problems, "alignment.window_ms must be positive")
	}
	if !validWindowAggs[c.Alignment.WindowAgg] {
		problems = append(problems, fmt.Sprintf("alignment.window_agg must be mean or median (got %q)", c.Alignment.WindowAgg))
	}
	if c.Alignment.ChunkSize < 1 {
		problems = append(problems, "alignment.chunk_size must be at least 1")
	}
	if !validPaddingModes[c.Alignment.PaddingMode] {
		problems = append(problems, fmt.Sprintf("alignment.padding_mode must be repeat, zero, or drop (got %q)", c.Alignment.PaddingMode))
	}

	if strings.TrimSpace(c.Dataset.Name) == "" {
		problems = append(problems, "dataset.name is required")
	}
	if strings.TrimSpace(c.Dataset.RobotType) == "" {
		problems = append(problems, "dataset.robot_type is required")
	}
	if c.Dataset.ChunkCapacity < 1 {
		problems = append(problems, "dataset.chunk_capacity must be at least 1")
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format must be console or json (got %q)", c.Logging.Format))
	}
	if c.Logging.RetentionDays < 1 {
		problems = append(problems, "logging.retention_days must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
