package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, path, exists, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatalf("Load reported a file at %s, expected defaults", path)
	}
	if cfg.Worker.Count != 2 {
		t.Errorf("worker.count = %d, want 2", cfg.Worker.Count)
	}
	if cfg.Alignment.Strategy != "nearest" {
		t.Errorf("alignment.strategy = %q, want nearest", cfg.Alignment.Strategy)
	}
	if cfg.Coordination.ProcessedTTLDays != 30 {
		t.Errorf("coordination.processed_ttl_days = %d, want 30", cfg.Coordination.ProcessedTTLDays)
	}
}

func TestLoadParsesAndExpandsPaths(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	content := `
[paths]
staging_dir = "` + dir + `/staging"
log_dir = "` + dir + `/logs"
dataset_dir = "` + dir + `/dataset"

[coordination]
db_path = "` + dir + `/coord.db"
namespace = "  loom-test "

[alignment]
strategy = "WINDOW"
window_agg = "Median"

[worker]
count = 4
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, path, exists, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatalf("Load did not find %s", configPath)
	}
	if path != configPath {
		t.Errorf("resolved path = %q, want %q", path, configPath)
	}
	if cfg.Worker.Count != 4 {
		t.Errorf("worker.count = %d, want 4", cfg.Worker.Count)
	}
	if cfg.Coordination.Namespace != "loom-test" {
		t.Errorf("namespace = %q, want trimmed loom-test", cfg.Coordination.Namespace)
	}
	if cfg.Alignment.Strategy != "window" {
		t.Errorf("strategy = %q, want lowercased window", cfg.Alignment.Strategy)
	}
	if cfg.Alignment.WindowAgg != "median" {
		t.Errorf("window_agg = %q, want lowercased median", cfg.Alignment.WindowAgg)
	}
	if !filepath.IsAbs(cfg.Paths.StagingDir) {
		t.Errorf("staging_dir = %q, want absolute", cfg.Paths.StagingDir)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	content := `
[alignment]
strategy = "psychic"

[worker]
count = 0
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, _, err := Load(configPath)
	if err == nil {
		t.Fatal("Load accepted invalid configuration")
	}
	if !strings.Contains(err.Error(), "alignment.strategy") {
		t.Errorf("error %q does not mention alignment.strategy", err)
	}
	if !strings.Contains(err.Error(), "worker.count") {
		t.Errorf("error %q does not mention worker.count", err)
	}
}

func TestLoadRejectsBadEpisodePattern(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	content := `
[scanner]
episode_pattern = "(["
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, _, err := Load(configPath)
	if err == nil {
		t.Fatal("Load accepted an invalid episode pattern")
	}
	if !strings.Contains(err.Error(), "scanner.episode_pattern") {
		t.Errorf("error %q does not mention scanner.episode_pattern", err)
	}
}

func TestCredentialsFallBackToEnvironment(t *testing.T) {
	t.Setenv("LOOM_S3_ACCESS_KEY", "env-access")
	t.Setenv("LOOM_S3_SECRET_KEY", "env-secret")

	cfg, _, _, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ObjectStore.AccessKey != "env-access" {
		t.Errorf("access key = %q, want env-access", cfg.ObjectStore.AccessKey)
	}
	if cfg.ObjectStore.SecretKey != "env-secret" {
		t.Errorf("secret key = %q, want env-secret", cfg.ObjectStore.SecretKey)
	}
}

func TestPrefixNormalization(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	content := `
[object_store]
raw_prefix = "/raw"
dataset_prefix = "datasets//"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ObjectStore.RawPrefix != "raw/" {
		t.Errorf("raw_prefix = %q, want raw/", cfg.ObjectStore.RawPrefix)
	}
	if cfg.ObjectStore.DatasetPrefix != "datasets/" {
		t.Errorf("dataset_prefix = %q, want datasets/", cfg.ObjectStore.DatasetPrefix)
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	samplePath := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := CreateSample(samplePath); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}

	cfg, _, exists, err := Load(samplePath)
	if err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
	if !exists {
		t.Fatal("sample config not found after CreateSample")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config does not validate: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	if got := cfg.ProcessedTTL().Hours(); got != 30*24 {
		t.Errorf("ProcessedTTL = %v hours, want %v", got, 30*24)
	}
	if got := cfg.ConsumeTimeout().Seconds(); got != 5 {
		t.Errorf("ConsumeTimeout = %vs, want 5s", got)
	}
	if got := cfg.StableTime().Seconds(); got != 120 {
		t.Errorf("StableTime = %vs, want 120s", got)
	}
}
