package align

import (
	"loom/internal/episode"
	"loom/internal/services"
)

// chunkingStrategy emits, per anchor, the nearest follower observation plus a
// forward run of chunkSize leader samples as the action. The run starts at
// the leader sample nearest the anchor, so the chunk's first row matches the
// instantaneous leader observation. Runs that hit the end of an arm's stream
// are padded per paddingMode, or the frame is dropped entirely under
// PadDrop.
type chunkingStrategy struct {
	tolerance int64
	chunkSize int
	padding   string
}

func (s *chunkingStrategy) Name() string { return StrategyChunking }

func (s *chunkingStrategy) ActionShape() (int, int) { return s.chunkSize, ObsDim }

func (s *chunkingStrategy) Align(anchors []CameraFrameAnchor, streams episode.Streams) ([]AlignedFrame, error) {
	if err := streams.Validate(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "align", "chunking", "arm streams incomplete", err)
	}
	frames := make([]AlignedFrame, 0, len(anchors))
	for _, anchor := range anchors {
		follower, ok := gatedFollower(anchor.Timestamp, streams, s.tolerance)
		if !ok {
			continue
		}
		left, ok := s.armChunk(anchor.Timestamp, streams.LeftLeader)
		if !ok {
			continue
		}
		right, ok := s.armChunk(anchor.Timestamp, streams.RightLeader)
		if !ok {
			continue
		}
		action := make([]float32, 0, s.chunkSize*ObsDim)
		for step := 0; step < s.chunkSize; step++ {
			action = append(action, left[step]...)
			action = append(action, right[step]...)
		}
		frames = append(frames, AlignedFrame{
			Timestamp:  anchor.Timestamp,
			Follower:   follower,
			Leader:     concat(left[0], right[0]),
			Action:     action,
			PerCamera:  anchor.PerCamera,
			FrameIndex: len(frames),
		})
	}
	return frames, nil
}

// armChunk extracts chunkSize consecutive states starting at the sample
// nearest ts. Each arm pads independently: PadRepeat extends the stream's
// final state, PadZero appends zero states, and PadDrop reports ok=false
// when the stream is too short.
func (s *chunkingStrategy) armChunk(ts int64, stream episode.ArmStream) ([][]float32, bool) {
	start := nearestIndex(stream.Timestamps, ts)
	avail := len(stream.States) - start
	if avail >= s.chunkSize {
		return stream.States[start : start+s.chunkSize], true
	}
	if s.padding == PadDrop {
		return nil, false
	}
	rows := make([][]float32, 0, s.chunkSize)
	rows = append(rows, stream.States[start:]...)
	var pad []float32
	if s.padding == PadRepeat {
		pad = stream.States[len(stream.States)-1]
	} else {
		pad = make([]float32, episode.StateDim)
	}
	for len(rows) < s.chunkSize {
		rows = append(rows, pad)
	}
	return rows, true
}
