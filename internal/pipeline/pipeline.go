package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sort"

	_ "image/jpeg"

	"loom/internal/align"
	"loom/internal/config"
	"loom/internal/dataset"
	"loom/internal/episode"
	"loom/internal/logging"
	"loom/internal/queue"
	"loom/internal/services"
)

// Pipeline converts raw episode trees into the configured dataset directory.
// One instance serves all workers; per-conversion state lives on the stack.
type Pipeline struct {
	cfg      *config.Config
	defaults Settings
	base     *slog.Logger
	log      *slog.Logger
}

// New builds a pipeline bound to cfg's dataset directory and alignment
// defaults.
func New(cfg *config.Config, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		defaults: FromConfig(cfg),
		base:     logger,
		log:      logging.NewComponentLogger(logger, "pipeline"),
	}
}

// Summary describes one completed conversion.
type Summary struct {
	EpisodeID        string
	EpisodeIndex     int64
	Strategy         string
	Frames           int
	Cameras          []string
	DataPath         string
	AlreadyCommitted bool
}

// Convert runs the full conversion of the episode rooted at root and commits
// the result. The root may follow either raw naming convention; the task
// supplies strategy selection and parameter overrides. Settings resolve as
// config defaults, then meta.json, then task overrides.
func (p *Pipeline) Convert(ctx context.Context, root string, task *queue.ConversionTask) (Summary, error) {
	episodeIndex, err := episode.IndexFromID(task.EpisodeID)
	if err != nil {
		return Summary{}, services.Wrap(services.ErrValidation, "pipeline", "convert", task.EpisodeID, err)
	}
	summary := Summary{EpisodeID: task.EpisodeID, EpisodeIndex: episodeIndex}

	layout, err := episode.ResolveLayout(root)
	if err != nil {
		return summary, err
	}
	streams, err := episode.LoadStreams(layout)
	if err != nil {
		return summary, err
	}
	listings, err := episode.ListCameraFrames(layout)
	if err != nil {
		return summary, err
	}
	meta, _, err := episode.LoadMeta(root)
	if err != nil {
		return summary, err
	}
	listings, err = restrictCameras(listings, meta.Cameras)
	if err != nil {
		return summary, err
	}

	settings := p.defaults
	if task.Strategy != "" {
		settings.Strategy = task.Strategy
	}
	if meta.FPS > 0 {
		settings.FPS = meta.FPS
	}
	settings, err = settings.ApplyOverrides(task.ConfigOverrides)
	if err != nil {
		return summary, err
	}

	cameras := make([]string, 0, len(listings))
	stamps := make(map[string][]align.FrameStamp, len(listings))
	for camera, frames := range listings {
		cameras = append(cameras, camera)
		list := make([]align.FrameStamp, len(frames))
		for i, frame := range frames {
			list[i] = align.FrameStamp{Index: i, Timestamp: frame.Timestamp}
		}
		stamps[camera] = list
	}
	sort.Strings(cameras)
	summary.Cameras = cameras

	base := settings.BaseCamera
	if base == "" {
		base = cameras[0]
	}
	anchors, err := align.SyncCameras(base, stamps, settings.Params.ToleranceMS)
	if err != nil {
		return summary, err
	}

	strategy, err := align.ForTask(settings.Strategy, settings.Params)
	if err != nil {
		return summary, err
	}
	summary.Strategy = strategy.Name()

	aligned, err := strategy.Align(anchors, streams)
	if err != nil {
		return summary, err
	}
	if len(aligned) == 0 {
		return summary, services.Wrap(services.ErrValidation, "pipeline", "convert",
			fmt.Sprintf("no frames survived %s alignment", strategy.Name()), nil)
	}
	summary.Frames = len(aligned)

	cameraFrames, err := resolveFramePaths(aligned, listings, cameras)
	if err != nil {
		return summary, err
	}
	shapes := make(map[string][]int, len(cameras))
	for _, camera := range cameras {
		shape, err := probeImageShape(cameraFrames[camera][0])
		if err != nil {
			return summary, err
		}
		shapes[camera] = shape
	}

	steps, _ := strategy.ActionShape()
	writer, err := p.newWriter(settings, meta)
	if err != nil {
		return summary, err
	}
	result, err := writer.CommitEpisode(ctx, dataset.Episode{
		EpisodeIndex: episodeIndex,
		Frames:       aligned,
		CameraFrames: cameraFrames,
		CameraShapes: shapes,
		ActionSteps:  steps,
	})
	if err != nil {
		return summary, err
	}
	summary.DataPath = result.DataPath
	summary.AlreadyCommitted = result.AlreadyCommitted
	if result.AlreadyCommitted {
		summary.Frames = result.Frames
	}

	p.log.InfoContext(ctx, "episode converted", logging.Args(
		logging.String(logging.FieldEpisodeID, task.EpisodeID),
		logging.String(logging.FieldStrategy, summary.Strategy),
		logging.Int("frames", summary.Frames),
		logging.Int("cameras", len(cameras)),
		logging.Bool("already_committed", result.AlreadyCommitted))...)
	return summary, nil
}

func (p *Pipeline) newWriter(settings Settings, meta episode.Meta) (*dataset.Writer, error) {
	label := p.cfg.Dataset.TaskLabel
	if label == "" {
		label = meta.Task
	}
	return dataset.NewWriter(dataset.Options{
		Root:          p.cfg.Paths.DatasetDir,
		Name:          p.cfg.Dataset.Name,
		RobotType:     p.cfg.Dataset.RobotType,
		FPS:           settings.FPS,
		TaskLabel:     label,
		VideoCodec:    p.cfg.Dataset.VideoCodec,
		ChunkCapacity: p.cfg.Dataset.ChunkCapacity,
		FFmpegBinary:  p.cfg.FFmpegBinary(),
		Logger:        p.base,
	})
}

// restrictCameras keeps only the cameras meta.json declares. An empty
// declaration keeps everything found on disk.
func restrictCameras(listings map[string][]episode.Frame, declared []string) (map[string][]episode.Frame, error) {
	if len(declared) == 0 {
		return listings, nil
	}
	kept := make(map[string][]episode.Frame, len(declared))
	for _, camera := range declared {
		frames, ok := listings[camera]
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "pipeline", "restrict cameras",
				fmt.Sprintf("meta.json declares camera %s but it has no frames", camera), nil)
		}
		kept[camera] = frames
	}
	return kept, nil
}

// resolveFramePaths maps every aligned frame back to the JPEG each camera
// contributed, in output order.
func resolveFramePaths(aligned []align.AlignedFrame, listings map[string][]episode.Frame, cameras []string) (map[string][]string, error) {
	paths := make(map[string][]string, len(cameras))
	for _, camera := range cameras {
		list := make([]string, len(aligned))
		for i, frame := range aligned {
			ref, ok := frame.PerCamera[camera]
			if !ok {
				return nil, services.Wrap(services.ErrValidation, "pipeline", "resolve frame paths",
					fmt.Sprintf("aligned frame %d lacks camera %s", i, camera), nil)
			}
			if ref.SourceIndex < 0 || ref.SourceIndex >= len(listings[camera]) {
				return nil, services.Wrap(services.ErrValidation, "pipeline", "resolve frame paths",
					fmt.Sprintf("camera %s frame index %d out of range", camera, ref.SourceIndex), nil)
			}
			list[i] = listings[camera][ref.SourceIndex].Path
		}
		paths[camera] = list
	}
	return paths, nil
}

// probeImageShape reads the image header and returns the dataset feature
// shape [height, width, channel].
func probeImageShape(path string) ([]int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "probe image", path, err)
	}
	defer file.Close()
	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return nil, services.Wrap(services.ErrMalformed, "pipeline", "probe image", path, err)
	}
	return []int{cfg.Height, cfg.Width, 3}, nil
}
