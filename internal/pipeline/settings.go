package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"loom/internal/align"
	"loom/internal/config"
	"loom/internal/services"
)

// Settings are the resolved alignment and output parameters for one
// conversion: config defaults refined by episode metadata and per-task
// overrides.
type Settings struct {
	Strategy   string
	Params     align.Params
	FPS        float64
	BaseCamera string
}

// FromConfig seeds settings from the configured alignment defaults.
func FromConfig(cfg *config.Config) Settings {
	return Settings{
		Strategy: cfg.Alignment.Strategy,
		Params: align.Params{
			ToleranceMS: cfg.Alignment.ToleranceMS,
			WindowMS:    cfg.Alignment.WindowMS,
			WindowAgg:   cfg.Alignment.WindowAgg,
			ChunkSize:   cfg.Alignment.ChunkSize,
			PaddingMode: cfg.Alignment.PaddingMode,
		},
		FPS:        cfg.Alignment.FPS,
		BaseCamera: cfg.Alignment.BaseCamera,
	}
}

// ApplyOverrides folds task-level overrides into the settings. Override keys
// form a closed set; an unknown key or unparsable value rejects the task
// instead of converting with half-applied parameters.
func (s Settings) ApplyOverrides(overrides map[string]string) (Settings, error) {
	for key, raw := range overrides {
		value := strings.TrimSpace(raw)
		var err error
		switch key {
		case "tolerance_ms":
			s.Params.ToleranceMS, err = strconv.Atoi(value)
		case "window_ms":
			s.Params.WindowMS, err = strconv.Atoi(value)
		case "window_agg":
			s.Params.WindowAgg = value
		case "chunk_size":
			s.Params.ChunkSize, err = strconv.Atoi(value)
		case "padding_mode":
			s.Params.PaddingMode = value
		case "fps":
			s.FPS, err = strconv.ParseFloat(value, 64)
		case "base_camera":
			s.BaseCamera = value
		default:
			return s, services.Wrap(services.ErrValidation, "pipeline", "apply overrides",
				fmt.Sprintf("unknown override key %q", key), nil)
		}
		if err != nil {
			return s, services.Wrap(services.ErrValidation, "pipeline", "apply overrides",
				fmt.Sprintf("override %s=%q", key, raw), err)
		}
	}
	return s, nil
}
