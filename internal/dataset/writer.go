package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"loom/internal/align"
	"loom/internal/logging"
	"loom/internal/services"
	"loom/internal/textutil"
)

const lockRetryDelay = 250 * time.Millisecond

// Options configures a Writer. Name is the dataset slug and doubles as the
// default task label source when TaskLabel is empty.
type Options struct {
	Root          string
	Name          string
	RobotType     string
	FPS           float64
	TaskLabel     string
	VideoCodec    string
	ChunkCapacity int
	FFmpegBinary  string
	Logger        *slog.Logger
}

// Writer commits aligned episodes into one dataset directory. Writers in
// separate processes may share a dataset; the metadata update runs under an
// advisory file lock.
type Writer struct {
	layout    Layout
	robotType string
	fps       float64
	taskLabel string
	codec     string
	ffmpeg    string
	log       *slog.Logger
}

// NewWriter validates opts and returns a Writer.
func NewWriter(opts Options) (*Writer, error) {
	if opts.Root == "" {
		return nil, services.Wrap(services.ErrConfiguration, "dataset", "new writer", "dataset root is empty", nil)
	}
	if opts.FPS <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "dataset", "new writer", "fps must be positive", nil)
	}
	label := opts.TaskLabel
	if label == "" {
		label = textutil.TitleFromSlug(opts.Name)
	}
	ffmpeg := opts.FFmpegBinary
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return &Writer{
		layout:    NewLayout(opts.Root, opts.ChunkCapacity),
		robotType: opts.RobotType,
		fps:       opts.FPS,
		taskLabel: label,
		codec:     opts.VideoCodec,
		ffmpeg:    ffmpeg,
		log:       logging.NewComponentLogger(opts.Logger, "dataset"),
	}, nil
}

// Layout returns the writer's path layout.
func (w *Writer) Layout() Layout { return w.layout }

// TaskLabel returns the label recorded in episode and task records.
func (w *Writer) TaskLabel() string { return w.taskLabel }

// Episode is one aligned episode ready to be committed.
type Episode struct {
	EpisodeIndex int64
	Frames       []align.AlignedFrame
	// CameraFrames lists, per camera, the source JPEG of every output frame
	// in frame order; every list must be as long as Frames.
	CameraFrames map[string][]string
	// CameraShapes holds {height, width, channels} per camera.
	CameraShapes map[string][]int
	// ActionSteps is the number of action rows per frame (1, or the chunk
	// size under the chunking strategy).
	ActionSteps int
}

// CommitResult reports what a commit wrote. AlreadyCommitted means the
// episode was found in episodes.jsonl and nothing was modified.
type CommitResult struct {
	EpisodeIndex     int64
	Frames           int
	StartIndex       int64
	DataPath         string
	VideoPaths       map[string]string
	AlreadyCommitted bool
}

// CommitEpisode encodes the episode's camera videos, writes its parquet
// table, and folds it into the dataset metadata. Re-committing an episode
// that episodes.jsonl already records is a no-op.
func (w *Writer) CommitEpisode(ctx context.Context, ep Episode) (CommitResult, error) {
	result := CommitResult{EpisodeIndex: ep.EpisodeIndex, Frames: len(ep.Frames)}
	if len(ep.Frames) == 0 {
		return result, services.Wrap(services.ErrValidation, "dataset", "commit episode", "no aligned frames", nil)
	}
	if len(ep.CameraFrames) == 0 {
		return result, services.Wrap(services.ErrValidation, "dataset", "commit episode", "no cameras", nil)
	}
	for camera, paths := range ep.CameraFrames {
		if len(paths) != len(ep.Frames) {
			return result, services.Wrap(services.ErrValidation, "dataset", "commit episode",
				fmt.Sprintf("camera %s has %d frames, aligned output has %d", camera, len(paths), len(ep.Frames)), nil)
		}
	}
	steps := ep.ActionSteps
	if steps < 1 {
		steps = 1
	}

	// Per-episode video files never collide across workers, so they encode
	// outside the metadata lock.
	cameras := make([]string, 0, len(ep.CameraFrames))
	for camera := range ep.CameraFrames {
		cameras = append(cameras, camera)
	}
	sort.Strings(cameras)
	result.VideoPaths = make(map[string]string, len(cameras))
	for _, camera := range cameras {
		dest := w.layout.VideoPath(camera, ep.EpisodeIndex)
		if err := EncodeVideo(ctx, w.ffmpeg, w.fps, w.codec, ep.CameraFrames[camera], dest); err != nil {
			return result, err
		}
		result.VideoPaths[camera] = dest
	}

	if err := os.MkdirAll(w.layout.MetaDir(), 0o755); err != nil {
		return result, services.Wrap(services.ErrTransient, "dataset", "commit episode", "create meta dir", err)
	}
	lock := flock.New(w.layout.LockPath())
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return result, services.Wrap(services.ErrTransient, "dataset", "commit episode", "acquire metadata lock", err)
	}
	if !locked {
		return result, services.Wrap(services.ErrTransient, "dataset", "commit episode", "metadata lock unavailable", nil)
	}
	defer lock.Unlock()

	committed, err := w.committedEpisodes()
	if err != nil {
		return result, services.Wrap(services.ErrTransient, "dataset", "commit episode", "read episode records", err)
	}
	if length, ok := committed[ep.EpisodeIndex]; ok {
		result.AlreadyCommitted = true
		result.Frames = length
		result.DataPath = w.layout.DataPath(ep.EpisodeIndex)
		w.log.Info("episode already committed", logging.Args(
			logging.Int64("episode_index", ep.EpisodeIndex),
			logging.Int("frames", length))...)
		return result, nil
	}

	info, err := w.loadInfo()
	if err != nil {
		return result, services.Wrap(services.ErrTransient, "dataset", "commit episode", "load info.json", err)
	}
	startIndex := info.TotalFrames

	dataPath := w.layout.DataPath(ep.EpisodeIndex)
	if err := WriteFrames(dataPath, buildRows(ep, startIndex)); err != nil {
		return result, err
	}

	if err := w.appendEpisode(EpisodeRecord{
		EpisodeIndex: ep.EpisodeIndex,
		Length:       len(ep.Frames),
		Tasks:        []string{w.taskLabel},
	}); err != nil {
		return result, services.Wrap(services.ErrTransient, "dataset", "commit episode", "append episode record", err)
	}
	if err := w.ensureTasks(); err != nil {
		return result, services.Wrap(services.ErrTransient, "dataset", "commit episode", "write task list", err)
	}

	info.TotalEpisodes++
	info.TotalFrames += int64(len(ep.Frames))
	mergeFeatures(info.Features, ep, steps)
	if err := w.saveInfo(info); err != nil {
		return result, services.Wrap(services.ErrTransient, "dataset", "commit episode", "save info.json", err)
	}

	result.StartIndex = startIndex
	result.DataPath = dataPath
	w.log.Info("episode committed", logging.Args(
		logging.Int64("episode_index", ep.EpisodeIndex),
		logging.Int("frames", len(ep.Frames)),
		logging.Int64("start_index", startIndex))...)
	return result, nil
}

// buildRows flattens aligned frames into parquet rows. The timestamp column
// is seconds from the episode's first frame; index continues the
// dataset-global counter from startIndex.
func buildRows(ep Episode, startIndex int64) []FrameRow {
	base := ep.Frames[0].Timestamp
	rows := make([]FrameRow, len(ep.Frames))
	for i, frame := range ep.Frames {
		rows[i] = FrameRow{
			ObservationStateSlave:  frame.Follower,
			ObservationStateMaster: frame.Leader,
			Action:                 frame.Action,
			EpisodeIndex:           ep.EpisodeIndex,
			FrameIndex:             int64(frame.FrameIndex),
			Timestamp:              float64(frame.Timestamp-base) / float64(time.Second),
			Index:                  startIndex + int64(i),
			NextDone:               i == len(ep.Frames)-1,
		}
	}
	return rows
}

// mergeFeatures unions this episode's schema into the descriptor. The keys
// are fixed, so repeat commits overwrite entries with identical values; new
// cameras add entries.
func mergeFeatures(features map[string]Feature, ep Episode, steps int) {
	features["observation.state.slave"] = Feature{DType: "float32", Shape: []int{align.ObsDim}}
	features["observation.state.master"] = Feature{DType: "float32", Shape: []int{align.ObsDim}}

	actionShape := []int{align.ObsDim}
	if steps > 1 {
		actionShape = []int{steps, align.ObsDim}
	}
	features["action"] = Feature{DType: "float32", Shape: actionShape}

	for camera := range ep.CameraFrames {
		feature := Feature{DType: "video", Names: []string{"height", "width", "channel"}}
		if shape, ok := ep.CameraShapes[camera]; ok {
			feature.Shape = shape
		}
		features[VideoKey(camera)] = feature
	}

	features["episode_index"] = Feature{DType: "int64", Shape: []int{1}}
	features["frame_index"] = Feature{DType: "int64", Shape: []int{1}}
	features["timestamp"] = Feature{DType: "float64", Shape: []int{1}}
	features["index"] = Feature{DType: "int64", Shape: []int{1}}
	features["next.done"] = Feature{DType: "bool", Shape: []int{1}}
}
