package align

import (
	"fmt"
	"strings"

	"loom/internal/episode"
	"loom/internal/services"
)

// ObsDim is the dimension of an aligned observation: both arms concatenated,
// left joints in dims 0 to 6 and right joints in dims 7 to 13.
const ObsDim = 2 * episode.StateDim

// Strategy names, as carried on tasks and in configuration.
const (
	StrategyNearest  = "nearest"
	StrategyWindow   = "window"
	StrategyChunking = "chunking"
)

// Window aggregation modes.
const (
	AggMean   = "mean"
	AggMedian = "median"
)

// Chunk tail padding modes.
const (
	PadRepeat = "repeat"
	PadZero   = "zero"
	PadDrop   = "drop"
)

// FrameStamp is one camera frame's position in its stream and its capture
// time in unix nanoseconds. Streams handed to SyncCameras must be ordered by
// ascending timestamp.
type FrameStamp struct {
	Index     int
	Timestamp int64
}

// FrameRef points an aligned frame at the source camera frame it displays.
type FrameRef struct {
	SourceIndex int
	Timestamp   int64
}

// CameraFrameAnchor is one output-frame candidate: a base-camera timestamp
// plus the matching frame of every camera.
type CameraFrameAnchor struct {
	Timestamp int64
	PerCamera map[string]FrameRef
}

// AlignedFrame is one synchronized output frame. Follower and Leader are
// ObsDim-wide observations; Action is row-major with ActionShape rows of
// ObsDim values. FrameIndex is the frame's position in the output sequence,
// which is shorter than the anchor count when frames are dropped.
type AlignedFrame struct {
	Timestamp  int64
	Follower   []float32
	Leader     []float32
	Action     []float32
	PerCamera  map[string]FrameRef
	FrameIndex int
}

// Params carries the numeric knobs shared by the strategies. A non-positive
// ToleranceMS disables the follower tolerance gate.
type Params struct {
	ToleranceMS int
	WindowMS    int
	WindowAgg   string
	ChunkSize   int
	PaddingMode string
}

// Strategy produces aligned frames from camera anchors and arm streams.
// Implementations are stateless and selected once per task.
type Strategy interface {
	// Name returns the strategy's task wire name.
	Name() string
	// ActionShape returns the per-frame action dimensions (steps, dims).
	ActionShape() (steps, dim int)
	// Align produces at most one frame per anchor.
	Align(anchors []CameraFrameAnchor, streams episode.Streams) ([]AlignedFrame, error)
}

// ForTask selects the strategy implementation for name. The set is closed;
// unknown names are a validation error.
func ForTask(name string, p Params) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case StrategyNearest:
		return &nearestStrategy{tolerance: msToNS(p.ToleranceMS)}, nil
	case StrategyWindow:
		agg := p.WindowAgg
		if agg == "" {
			agg = AggMean
		}
		if agg != AggMean && agg != AggMedian {
			return nil, services.Wrap(services.ErrValidation, "align", "select strategy",
				fmt.Sprintf("window aggregation %q is not mean or median", p.WindowAgg), nil)
		}
		if p.WindowMS <= 0 {
			return nil, services.Wrap(services.ErrValidation, "align", "select strategy",
				"window_ms must be positive", nil)
		}
		return &windowStrategy{window: msToNS(p.WindowMS), agg: agg}, nil
	case StrategyChunking:
		padding := p.PaddingMode
		if padding == "" {
			padding = PadRepeat
		}
		if padding != PadRepeat && padding != PadZero && padding != PadDrop {
			return nil, services.Wrap(services.ErrValidation, "align", "select strategy",
				fmt.Sprintf("padding mode %q is not repeat, zero, or drop", p.PaddingMode), nil)
		}
		if p.ChunkSize < 1 {
			return nil, services.Wrap(services.ErrValidation, "align", "select strategy",
				"chunk_size must be at least 1", nil)
		}
		return &chunkingStrategy{
			tolerance: msToNS(p.ToleranceMS),
			chunkSize: p.ChunkSize,
			padding:   padding,
		}, nil
	default:
		return nil, services.Wrap(services.ErrValidation, "align", "select strategy",
			fmt.Sprintf("unknown strategy %q", name), nil)
	}
}

func msToNS(ms int) int64 {
	return int64(ms) * int64(1_000_000)
}

// concat joins the left and right arm states into one ObsDim vector.
func concat(left, right []float32) []float32 {
	out := make([]float32, 0, ObsDim)
	out = append(out, left...)
	out = append(out, right...)
	return out
}
