package align

import (
	"sort"

	"loom/internal/episode"
	"loom/internal/services"
)

// windowStrategy aggregates every arm stream over [anchor-window,
// anchor+window]. An anchor whose window is empty on any of the four streams
// is dropped; there is no separate tolerance gate because the window bounds
// already are one.
type windowStrategy struct {
	window int64 // half-width in nanoseconds
	agg    string
}

func (s *windowStrategy) Name() string { return StrategyWindow }

func (s *windowStrategy) ActionShape() (int, int) { return 1, ObsDim }

func (s *windowStrategy) Align(anchors []CameraFrameAnchor, streams episode.Streams) ([]AlignedFrame, error) {
	if err := streams.Validate(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "align", "window", "arm streams incomplete", err)
	}
	frames := make([]AlignedFrame, 0, len(anchors))
	for _, anchor := range anchors {
		lf, ok := s.aggregate(anchor.Timestamp, streams.LeftFollower)
		if !ok {
			continue
		}
		rf, ok := s.aggregate(anchor.Timestamp, streams.RightFollower)
		if !ok {
			continue
		}
		ll, ok := s.aggregate(anchor.Timestamp, streams.LeftLeader)
		if !ok {
			continue
		}
		rl, ok := s.aggregate(anchor.Timestamp, streams.RightLeader)
		if !ok {
			continue
		}
		leader := concat(ll, rl)
		frames = append(frames, AlignedFrame{
			Timestamp:  anchor.Timestamp,
			Follower:   concat(lf, rf),
			Leader:     leader,
			Action:     leader,
			PerCamera:  anchor.PerCamera,
			FrameIndex: len(frames),
		})
	}
	return frames, nil
}

// aggregate reduces the samples inside the anchor's window to one state
// vector, or reports ok=false when the window is empty.
func (s *windowStrategy) aggregate(ts int64, stream episode.ArmStream) ([]float32, bool) {
	lo, hi := windowBounds(stream.Timestamps, ts, s.window)
	if lo >= hi {
		return nil, false
	}
	if s.agg == AggMedian {
		return medianState(stream.States[lo:hi]), true
	}
	return meanState(stream.States[lo:hi]), true
}

func meanState(states [][]float32) []float32 {
	out := make([]float32, episode.StateDim)
	acc := make([]float64, episode.StateDim)
	for _, state := range states {
		for d, v := range state {
			acc[d] += float64(v)
		}
	}
	n := float64(len(states))
	for d := range out {
		out[d] = float32(acc[d] / n)
	}
	return out
}

// medianState takes the per-dimension median; even counts average the two
// middle values.
func medianState(states [][]float32) []float32 {
	out := make([]float32, episode.StateDim)
	column := make([]float64, len(states))
	for d := 0; d < episode.StateDim; d++ {
		for i, state := range states {
			column[i] = float64(state[d])
		}
		sort.Float64s(column)
		mid := len(column) / 2
		if len(column)%2 == 1 {
			out[d] = float32(column[mid])
		} else {
			out[d] = float32((column[mid-1] + column[mid]) / 2)
		}
	}
	return out
}
