package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"

	"loom/internal/align"
	"loom/internal/config"
	"loom/internal/dataset"
	"loom/internal/pipeline"
	"loom/internal/queue"
	"loom/internal/services"
	"loom/internal/testsupport"
)

func newPipeline(t *testing.T, opts ...testsupport.ConfigOption) (*pipeline.Pipeline, *config.Config) {
	t.Helper()
	opts = append([]testsupport.ConfigOption{testsupport.WithStubbedBinaries()}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	return pipeline.New(cfg, nil), cfg
}

func localTask(episodeID, strategy string, overrides map[string]string) *queue.ConversionTask {
	return &queue.ConversionTask{
		EpisodeID:       episodeID,
		Source:          queue.SourceLocal,
		Strategy:        strategy,
		ConfigOverrides: overrides,
	}
}

func episodeRoot(t *testing.T, cfg *config.Config, episodeID string, spec testsupport.EpisodeSpec) string {
	t.Helper()
	root := filepath.Join(cfg.Paths.RawDir, episodeID)
	testsupport.WriteEpisode(t, root, spec)
	return root
}

func TestConvertNearestEndToEnd(t *testing.T) {
	p, cfg := newPipeline(t)
	root := episodeRoot(t, cfg, "episode_0007", testsupport.EpisodeSpec{
		Samples: 10,
		Frames:  10,
		Cameras: []string{"cam_high", "cam_low"},
	})

	summary, err := p.Convert(context.Background(), root, localTask("episode_0007", "", nil))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if summary.EpisodeIndex != 7 {
		t.Errorf("EpisodeIndex = %d, want 7", summary.EpisodeIndex)
	}
	if summary.Strategy != align.StrategyNearest {
		t.Errorf("Strategy = %q, want nearest", summary.Strategy)
	}
	if summary.Frames != 10 {
		t.Errorf("Frames = %d, want 10", summary.Frames)
	}
	if len(summary.Cameras) != 2 || summary.Cameras[0] != "cam_high" || summary.Cameras[1] != "cam_low" {
		t.Errorf("Cameras = %v", summary.Cameras)
	}

	rows, err := parquet.ReadFile[dataset.FrameRow](summary.DataPath)
	if err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	if len(rows) != 10 {
		t.Fatalf("parquet has %d rows, want 10", len(rows))
	}
	// Fixture states carry the sample index plus a per-role offset, so the
	// concatenation order is observable in the first element of each arm.
	third := rows[3]
	if third.ObservationStateSlave[0] != 3 || third.ObservationStateSlave[7] != 203 {
		t.Errorf("follower concat = [%v ... %v]", third.ObservationStateSlave[0], third.ObservationStateSlave[7])
	}
	if third.ObservationStateMaster[0] != 103 || third.ObservationStateMaster[7] != 303 {
		t.Errorf("leader concat = [%v ... %v]", third.ObservationStateMaster[0], third.ObservationStateMaster[7])
	}
	if len(third.Action) != align.ObsDim {
		t.Errorf("action length = %d, want %d", len(third.Action), align.ObsDim)
	}
	if third.EpisodeIndex != 7 || third.FrameIndex != 3 {
		t.Errorf("row identity = episode %d frame %d", third.EpisodeIndex, third.FrameIndex)
	}

	raw, err := os.ReadFile(filepath.Join(cfg.Paths.DatasetDir, "meta", "info.json"))
	if err != nil {
		t.Fatalf("read info.json: %v", err)
	}
	var info dataset.Info
	if err := json.Unmarshal(raw, &info); err != nil {
		t.Fatalf("decode info.json: %v", err)
	}
	if info.TotalEpisodes != 1 || info.TotalFrames != 10 {
		t.Errorf("info totals = %d / %d", info.TotalEpisodes, info.TotalFrames)
	}
	for _, camera := range []string{"cam_high", "cam_low"} {
		feature, ok := info.Features["observation.images."+camera]
		if !ok {
			t.Fatalf("info.json lacks camera feature for %s", camera)
		}
		if len(feature.Shape) != 3 || feature.Shape[0] != 6 || feature.Shape[1] != 8 {
			t.Errorf("camera %s shape = %v, want [6 8 3]", camera, feature.Shape)
		}
	}
}

func TestConvertLegacyLayout(t *testing.T) {
	p, cfg := newPipeline(t)
	root := episodeRoot(t, cfg, "episode_0012", testsupport.EpisodeSpec{
		Samples: 6,
		Legacy:  true,
	})

	summary, err := p.Convert(context.Background(), root, localTask("episode_0012", "", nil))
	if err != nil {
		t.Fatalf("Convert legacy: %v", err)
	}
	if summary.Frames != 6 {
		t.Errorf("Frames = %d, want 6", summary.Frames)
	}
}

func TestConvertChunkingOverrides(t *testing.T) {
	p, cfg := newPipeline(t)
	root := episodeRoot(t, cfg, "episode_0001", testsupport.EpisodeSpec{Samples: 10})

	task := localTask("episode_0001", align.StrategyChunking, map[string]string{
		"chunk_size":   "5",
		"tolerance_ms": "0",
	})
	summary, err := p.Convert(context.Background(), root, task)
	if err != nil {
		t.Fatalf("Convert chunking: %v", err)
	}
	if summary.Strategy != align.StrategyChunking {
		t.Errorf("Strategy = %q", summary.Strategy)
	}

	rows, err := parquet.ReadFile[dataset.FrameRow](summary.DataPath)
	if err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	if got := len(rows[0].Action); got != 5*align.ObsDim {
		t.Errorf("chunked action length = %d, want %d", got, 5*align.ObsDim)
	}

	raw, err := os.ReadFile(filepath.Join(cfg.Paths.DatasetDir, "meta", "info.json"))
	if err != nil {
		t.Fatalf("read info.json: %v", err)
	}
	var info dataset.Info
	if err := json.Unmarshal(raw, &info); err != nil {
		t.Fatalf("decode info.json: %v", err)
	}
	shape := info.Features["action"].Shape
	if len(shape) != 2 || shape[0] != 5 || shape[1] != align.ObsDim {
		t.Errorf("action shape = %v, want [5 %d]", shape, align.ObsDim)
	}
}

func TestConvertHonorsEpisodeMeta(t *testing.T) {
	p, cfg := newPipeline(t)
	root := episodeRoot(t, cfg, "episode_0002", testsupport.EpisodeSpec{
		Samples: 5,
		Cameras: []string{"cam_high", "cam_low"},
		Meta:    `{"cameras":["cam_high"],"fps":50,"task":"Pick battery"}`,
	})

	summary, err := p.Convert(context.Background(), root, localTask("episode_0002", "", nil))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(summary.Cameras) != 1 || summary.Cameras[0] != "cam_high" {
		t.Errorf("Cameras = %v, want meta.json restriction", summary.Cameras)
	}

	raw, err := os.ReadFile(filepath.Join(cfg.Paths.DatasetDir, "meta", "info.json"))
	if err != nil {
		t.Fatalf("read info.json: %v", err)
	}
	var info dataset.Info
	if err := json.Unmarshal(raw, &info); err != nil {
		t.Fatalf("decode info.json: %v", err)
	}
	if info.FPS != 50 {
		t.Errorf("fps = %v, want 50 from meta.json", info.FPS)
	}
	if _, ok := info.Features["observation.images.cam_low"]; ok {
		t.Error("restricted camera leaked into features")
	}

	tasksRaw, err := os.ReadFile(filepath.Join(cfg.Paths.DatasetDir, "meta", "tasks.jsonl"))
	if err != nil {
		t.Fatalf("read tasks.jsonl: %v", err)
	}
	var record dataset.TaskRecord
	if err := json.Unmarshal(tasksRaw, &record); err != nil {
		t.Fatalf("decode task record: %v", err)
	}
	if record.Task != "Pick battery" {
		t.Errorf("task label = %q, want meta.json task", record.Task)
	}
}

func TestConvertIsIdempotent(t *testing.T) {
	p, cfg := newPipeline(t)
	root := episodeRoot(t, cfg, "episode_0003", testsupport.EpisodeSpec{Samples: 4})
	task := localTask("episode_0003", "", nil)

	if _, err := p.Convert(context.Background(), root, task); err != nil {
		t.Fatalf("first convert: %v", err)
	}
	replay, err := p.Convert(context.Background(), root, task)
	if err != nil {
		t.Fatalf("second convert: %v", err)
	}
	if !replay.AlreadyCommitted {
		t.Error("second convert not reported as already committed")
	}
	if replay.Frames != 4 {
		t.Errorf("replay frames = %d, want committed length 4", replay.Frames)
	}
}

func TestConvertRejectsBadInput(t *testing.T) {
	p, cfg := newPipeline(t)
	root := episodeRoot(t, cfg, "episode_0004", testsupport.EpisodeSpec{Samples: 3})
	ctx := context.Background()

	if _, err := p.Convert(ctx, root, localTask("nodigits", "", nil)); !errors.Is(err, services.ErrValidation) {
		t.Errorf("bad episode id: err = %v, want ErrValidation", err)
	}
	if _, err := p.Convert(ctx, root, localTask("episode_0004", "", map[string]string{"bogus": "1"})); !errors.Is(err, services.ErrValidation) {
		t.Errorf("unknown override: err = %v, want ErrValidation", err)
	}
	if _, err := p.Convert(ctx, t.TempDir(), localTask("episode_0005", "", nil)); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("missing joints: err = %v, want ErrNotFound", err)
	}
}

func TestSettingsApplyOverrides(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	base := pipeline.FromConfig(cfg)

	resolved, err := base.ApplyOverrides(map[string]string{
		"tolerance_ms": "35",
		"window_ms":    "80",
		"window_agg":   "median",
		"chunk_size":   "10",
		"padding_mode": "zero",
		"fps":          "30",
		"base_camera":  "cam_low",
	})
	if err != nil {
		t.Fatalf("ApplyOverrides: %v", err)
	}
	if resolved.Params.ToleranceMS != 35 || resolved.Params.WindowMS != 80 {
		t.Errorf("timing params = %+v", resolved.Params)
	}
	if resolved.Params.WindowAgg != "median" || resolved.Params.PaddingMode != "zero" {
		t.Errorf("mode params = %+v", resolved.Params)
	}
	if resolved.Params.ChunkSize != 10 || resolved.FPS != 30 || resolved.BaseCamera != "cam_low" {
		t.Errorf("resolved = %+v", resolved)
	}

	if _, err := base.ApplyOverrides(map[string]string{"chunk_size": "five"}); !errors.Is(err, services.ErrValidation) {
		t.Errorf("unparsable value: err = %v, want ErrValidation", err)
	}
	if _, err := base.ApplyOverrides(map[string]string{"window": "40"}); !errors.Is(err, services.ErrValidation) {
		t.Errorf("unknown key: err = %v, want ErrValidation", err)
	}
}
