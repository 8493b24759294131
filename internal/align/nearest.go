package align

import (
	"loom/internal/episode"
	"loom/internal/services"
)

// nearestStrategy picks, for every anchor, the arm sample closest in time.
// Follower streams are gated by the tolerance: an anchor whose nearest
// follower sample on either arm sits farther than the tolerance is dropped.
// Leader streams are never gated, so the action always exists for a kept
// frame.
type nearestStrategy struct {
	tolerance int64 // nanoseconds; <=0 disables the gate
}

func (s *nearestStrategy) Name() string { return StrategyNearest }

func (s *nearestStrategy) ActionShape() (int, int) { return 1, ObsDim }

func (s *nearestStrategy) Align(anchors []CameraFrameAnchor, streams episode.Streams) ([]AlignedFrame, error) {
	if err := streams.Validate(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "align", "nearest", "arm streams incomplete", err)
	}
	frames := make([]AlignedFrame, 0, len(anchors))
	for _, anchor := range anchors {
		follower, ok := gatedFollower(anchor.Timestamp, streams, s.tolerance)
		if !ok {
			continue
		}
		leader := pickNearestPair(anchor.Timestamp, streams.LeftLeader, streams.RightLeader)
		frames = append(frames, AlignedFrame{
			Timestamp:  anchor.Timestamp,
			Follower:   follower,
			Leader:     leader,
			Action:     leader,
			PerCamera:  anchor.PerCamera,
			FrameIndex: len(frames),
		})
	}
	return frames, nil
}

// gatedFollower returns the concatenated follower observation nearest to ts,
// or ok=false when either arm's nearest sample misses the tolerance. A
// non-positive tolerance keeps every anchor.
func gatedFollower(ts int64, streams episode.Streams, tolerance int64) ([]float32, bool) {
	li := nearestIndex(streams.LeftFollower.Timestamps, ts)
	ri := nearestIndex(streams.RightFollower.Timestamps, ts)
	if tolerance > 0 {
		if absDelta(streams.LeftFollower.Timestamps[li], ts) > tolerance {
			return nil, false
		}
		if absDelta(streams.RightFollower.Timestamps[ri], ts) > tolerance {
			return nil, false
		}
	}
	return concat(streams.LeftFollower.States[li], streams.RightFollower.States[ri]), true
}

func pickNearestPair(ts int64, left, right episode.ArmStream) []float32 {
	li := nearestIndex(left.Timestamps, ts)
	ri := nearestIndex(right.Timestamps, ts)
	return concat(left.States[li], right.States[ri])
}
