package episode

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"loom/internal/services"
)

// ArmStream is one arm's joint-state series, ordered by timestamp. Timestamps
// are unix nanoseconds; States[i] is the joint vector recorded at
// Timestamps[i].
type ArmStream struct {
	Role       Role
	Timestamps []int64
	States     [][]float32
}

// Len returns the number of samples.
func (s ArmStream) Len() int {
	return len(s.Timestamps)
}

// Streams bundles the four arm streams of one episode.
type Streams struct {
	LeftFollower  ArmStream
	LeftLeader    ArmStream
	RightFollower ArmStream
	RightLeader   ArmStream
}

// ByRole returns the stream for role.
func (s Streams) ByRole(role Role) ArmStream {
	switch role {
	case RoleLeftFollower:
		return s.LeftFollower
	case RoleLeftLeader:
		return s.LeftLeader
	case RoleRightFollower:
		return s.RightFollower
	case RoleRightLeader:
		return s.RightLeader
	}
	return ArmStream{}
}

// Validate checks that every role carries at least one sample.
func (s Streams) Validate() error {
	for _, role := range Roles {
		if s.ByRole(role).Len() == 0 {
			return services.Wrap(services.ErrValidation, "episode", "validate streams",
				fmt.Sprintf("%s stream is empty", role), nil)
		}
	}
	return nil
}

type sampleLine struct {
	T     int64     `json:"t"`
	State []float32 `json:"state"`
}

// LoadArmStream parses one joint series file. Lines are JSON records of the
// form {"t":<unix ns>,"state":[7 floats]}. Samples are sorted by timestamp;
// recorders occasionally flush out of order.
func LoadArmStream(path string, role Role) (ArmStream, error) {
	file, err := os.Open(path)
	if err != nil {
		return ArmStream{}, services.Wrap(services.ErrNotFound, "episode", "load arm stream", string(role), err)
	}
	defer file.Close()

	type sample struct {
		ts    int64
		state []float32
	}
	var samples []sample

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record sampleLine
		if err := json.Unmarshal(line, &record); err != nil {
			return ArmStream{}, services.Wrap(services.ErrMalformed, "episode", "load arm stream",
				fmt.Sprintf("%s line %d", role, lineNo), err)
		}
		if len(record.State) != StateDim {
			return ArmStream{}, services.Wrap(services.ErrMalformed, "episode", "load arm stream",
				fmt.Sprintf("%s line %d: state has %d dims, want %d", role, lineNo, len(record.State), StateDim), nil)
		}
		samples = append(samples, sample{ts: record.T, state: record.State})
	}
	if err := scanner.Err(); err != nil {
		return ArmStream{}, services.Wrap(services.ErrMalformed, "episode", "load arm stream", string(role), err)
	}
	if len(samples) == 0 {
		return ArmStream{}, services.Wrap(services.ErrValidation, "episode", "load arm stream",
			fmt.Sprintf("%s has no samples", role), nil)
	}

	sort.SliceStable(samples, func(i, j int) bool { return samples[i].ts < samples[j].ts })

	stream := ArmStream{
		Role:       role,
		Timestamps: make([]int64, len(samples)),
		States:     make([][]float32, len(samples)),
	}
	for i, sm := range samples {
		stream.Timestamps[i] = sm.ts
		stream.States[i] = sm.state
	}
	return stream, nil
}

// LoadStreams loads all four arm streams of the episode.
func LoadStreams(layout Layout) (Streams, error) {
	var streams Streams
	for _, role := range Roles {
		stream, err := LoadArmStream(layout.JointFile(role), role)
		if err != nil {
			return Streams{}, err
		}
		switch role {
		case RoleLeftFollower:
			streams.LeftFollower = stream
		case RoleLeftLeader:
			streams.LeftLeader = stream
		case RoleRightFollower:
			streams.RightFollower = stream
		case RoleRightLeader:
			streams.RightLeader = stream
		}
	}
	return streams, nil
}
