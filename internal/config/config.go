package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
	DatasetDir string `toml:"dataset_dir"`
	RawDir     string `toml:"raw_dir"`
}

// Coordination configures the embedded coordination store and queue keyspace.
type Coordination struct {
	DBPath                string `toml:"db_path"`
	Namespace             string `toml:"namespace"`
	ProcessedTTLDays      int    `toml:"processed_ttl_days"`
	FailedTTLDays         int    `toml:"failed_ttl_days"`
	ConsumeTimeoutSeconds int    `toml:"consume_timeout_seconds"`
	PollIntervalMS        int    `toml:"poll_interval_ms"`
}

// ObjectStore configures the remote episode store and transfer behaviour.
type ObjectStore struct {
	Endpoint          string `toml:"endpoint"`
	AccessKey         string `toml:"access_key"`
	SecretKey         string `toml:"secret_key"`
	Bucket            string `toml:"bucket"`
	UseSSL            bool   `toml:"use_ssl"`
	RawPrefix         string `toml:"raw_prefix"`
	DatasetPrefix     string `toml:"dataset_prefix"`
	RetryAttempts     int    `toml:"retry_attempts"`
	RetryDelaySeconds int    `toml:"retry_delay_seconds"`
	TransferWorkers   int    `toml:"transfer_workers"`
}

// Scanner configures episode discovery.
type Scanner struct {
	IntervalSeconds   int      `toml:"interval_seconds"`
	StableTimeSeconds int      `toml:"stable_time_seconds"`
	MinFileCount      int      `toml:"min_file_count"`
	EpisodePattern    string   `toml:"episode_pattern"`
	RequiredDirs      []string `toml:"required_dirs"`
	PageSize          int      `toml:"page_size"`
}

// Worker configures the conversion worker pool.
type Worker struct {
	Count               int `toml:"count"`
	MinFreeSpaceGiB     int `toml:"min_free_space_gib"`
	StagingMaxAgeHours  int `toml:"staging_max_age_hours"`
	ConsumeIdleLogEvery int `toml:"consume_idle_log_every"`
}

// Alignment configures the default alignment strategy; tasks may override
// individual values through config_overrides.
type Alignment struct {
	Strategy    string  `toml:"strategy"`
	FPS         float64 `toml:"fps"`
	ToleranceMS int     `toml:"tolerance_ms"`
	WindowMS    int     `toml:"window_ms"`
	WindowAgg   string  `toml:"window_agg"`
	ChunkSize   int     `toml:"chunk_size"`
	PaddingMode string  `toml:"padding_mode"`
	BaseCamera  string  `toml:"base_camera"`
}

// Dataset configures the output dataset identity and encoding.
type Dataset struct {
	Name          string `toml:"name"`
	RobotType     string `toml:"robot_type"`
	TaskLabel     string `toml:"task_label"`
	VideoCodec    string `toml:"video_codec"`
	ChunkCapacity int    `toml:"chunk_capacity"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for loom.
//
// Configuration sections by subsystem:
//   - Paths: staging, log, dataset, and local raw directories
//   - Coordination: embedded store location, keyspace, TTLs, consume timing
//   - ObjectStore: MinIO/S3 endpoint, bucket, prefixes, transfer retry policy
//   - Scanner: discovery interval, stability window, completeness thresholds
//   - Worker: pool size, free-space floor, staging hygiene
//   - Alignment: default strategy parameters (per-task overridable)
//   - Dataset: output dataset identity, codec, chunking
//   - Logging: format, level, retention
type Config struct {
	Paths        Paths        `toml:"paths"`
	Coordination Coordination `toml:"coordination"`
	ObjectStore  ObjectStore  `toml:"object_store"`
	Scanner      Scanner      `toml:"scanner"`
	Worker       Worker       `toml:"worker"`
	Alignment    Alignment    `toml:"alignment"`
	Dataset      Dataset      `toml:"dataset"`
	Logging      Logging      `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/loom/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The boolean reports
// whether a file was found (defaults are used otherwise).
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("loom.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// DatasetDir is created best-effort so the daemon can start while external
// storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.DatasetDir) != "" {
		_ = os.MkdirAll(c.Paths.DatasetDir, 0o755)
	}
	return nil
}

// ProcessedTTL returns the retention of processed-episode records.
func (c *Config) ProcessedTTL() time.Duration {
	return time.Duration(c.Coordination.ProcessedTTLDays) * 24 * time.Hour
}

// FailedTTL returns the retention of failed-task entries.
func (c *Config) FailedTTL() time.Duration {
	return time.Duration(c.Coordination.FailedTTLDays) * 24 * time.Hour
}

// ConsumeTimeout returns the bounded blocking-pop duration for workers.
func (c *Config) ConsumeTimeout() time.Duration {
	return time.Duration(c.Coordination.ConsumeTimeoutSeconds) * time.Second
}

// ScanInterval returns the delay between scanner cycles.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Scanner.IntervalSeconds) * time.Second
}

// StableTime returns the upload-stability window.
func (c *Config) StableTime() time.Duration {
	return time.Duration(c.Scanner.StableTimeSeconds) * time.Second
}

// RetryDelay returns the fixed delay between object-store attempt retries.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.ObjectStore.RetryDelaySeconds) * time.Second
}

// StagingMaxAge returns the age past which abandoned staging dirs are swept.
func (c *Config) StagingMaxAge() time.Duration {
	return time.Duration(c.Worker.StagingMaxAgeHours) * time.Hour
}

// FFmpegBinary returns the ffmpeg executable name used for video encoding.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
