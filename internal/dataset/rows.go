package dataset

import (
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"loom/internal/services"
)

// FrameRow is one output dataset row. The parquet column names are the
// dataset's fixed feature keys; Action is row-major with ActionSteps rows of
// 14 values each.
type FrameRow struct {
	ObservationStateSlave  []float32 `parquet:"observation.state.slave"`
	ObservationStateMaster []float32 `parquet:"observation.state.master"`
	Action                 []float32 `parquet:"action"`
	EpisodeIndex           int64     `parquet:"episode_index"`
	FrameIndex             int64     `parquet:"frame_index"`
	Timestamp              float64   `parquet:"timestamp"`
	Index                  int64     `parquet:"index"`
	NextDone               bool      `parquet:"next.done"`
}

// WriteFrames writes rows as one parquet file at path, creating parent
// directories.
func WriteFrames(path string, rows []FrameRow) error {
	if len(rows) == 0 {
		return services.Wrap(services.ErrValidation, "dataset", "write frames", "no rows", nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "dataset", "write frames", path, err)
	}
	file, err := os.Create(path)
	if err != nil {
		return services.Wrap(services.ErrTransient, "dataset", "write frames", path, err)
	}

	writer := parquet.NewGenericWriter[FrameRow](file)
	if _, err := writer.Write(rows); err != nil {
		file.Close()
		return services.Wrap(services.ErrTransient, "dataset", "write frames", path, err)
	}
	if err := writer.Close(); err != nil {
		file.Close()
		return services.Wrap(services.ErrTransient, "dataset", "write frames", path, err)
	}
	return file.Close()
}
