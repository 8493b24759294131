package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// EpisodeSpec describes a synthetic raw episode written by WriteEpisode.
// Joint samples start at StartNS and advance by StepNS; camera frames share
// the joint timeline unless FrameStepNS differs. Frames are decodable 8x6
// JPEGs so shape probing works against them.
type EpisodeSpec struct {
	Samples     int
	Frames      int
	Cameras     []string
	StartNS     int64
	StepNS      int64
	FrameStepNS int64
	Legacy      bool
	Meta        string
}

func (spec *EpisodeSpec) defaults() {
	if spec.Samples <= 0 {
		spec.Samples = 10
	}
	if spec.Frames <= 0 {
		spec.Frames = spec.Samples
	}
	if len(spec.Cameras) == 0 {
		spec.Cameras = []string{"cam_high"}
	}
	if spec.StepNS <= 0 {
		spec.StepNS = 40_000_000
	}
	if spec.FrameStepNS <= 0 {
		spec.FrameStepNS = spec.StepNS
	}
}

// WriteEpisode lays a raw episode tree under dir. Joint states encode their
// sample index so tests can assert which samples alignment selected: stream
// role r sample i has state [i+roleOffset(r), i, i, i, i, i, i].
func WriteEpisode(t testing.TB, dir string, spec EpisodeSpec) {
	t.Helper()
	spec.defaults()

	jointNames := map[string]string{
		"left_follower":  "left_follower",
		"left_leader":    "left_leader",
		"right_follower": "right_follower",
		"right_leader":   "right_leader",
	}
	imagesRoot := "images"
	if spec.Legacy {
		jointNames = map[string]string{
			"left_follower":  "puppet_left",
			"left_leader":    "master_left",
			"right_follower": "puppet_right",
			"right_leader":   "master_right",
		}
		imagesRoot = "cameras"
	}

	roleOffsets := map[string]float64{
		"left_follower":  0,
		"left_leader":    100,
		"right_follower": 200,
		"right_leader":   300,
	}

	jointsDir := filepath.Join(dir, "joints")
	if err := os.MkdirAll(jointsDir, 0o755); err != nil {
		t.Fatalf("mkdir joints: %v", err)
	}
	for role, fileName := range jointNames {
		path := filepath.Join(jointsDir, fileName+".jsonl")
		f, err := os.Create(path)
		if err != nil {
			t.Fatalf("create %s: %v", path, err)
		}
		for i := 0; i < spec.Samples; i++ {
			ts := spec.StartNS + int64(i)*spec.StepNS
			lead := roleOffsets[role] + float64(i)
			line := fmt.Sprintf(`{"t":%d,"state":[%g,%d,%d,%d,%d,%d,%d]}`+"\n",
				ts, lead, i, i, i, i, i, i)
			if _, err := f.WriteString(line); err != nil {
				f.Close()
				t.Fatalf("write %s: %v", path, err)
			}
		}
		if err := f.Close(); err != nil {
			t.Fatalf("close %s: %v", path, err)
		}
	}

	for _, camera := range spec.Cameras {
		camDir := filepath.Join(dir, imagesRoot, camera)
		if err := os.MkdirAll(camDir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", camDir, err)
		}
		for i := 0; i < spec.Frames; i++ {
			ts := spec.StartNS + int64(i)*spec.FrameStepNS
			name := fmt.Sprintf("%06d_%d.jpg", i, ts)
			WriteJPEG(t, filepath.Join(camDir, name), 8, 6)
		}
	}

	if spec.Meta != "" {
		if err := os.WriteFile(filepath.Join(dir, "meta.json"), []byte(spec.Meta), 0o644); err != nil {
			t.Fatalf("write meta.json: %v", err)
		}
	}
}
