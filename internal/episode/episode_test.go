package episode_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"loom/internal/episode"
	"loom/internal/services"
	"loom/internal/testsupport"
)

func TestResolveLayoutCurrentConvention(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteEpisode(t, dir, testsupport.EpisodeSpec{Cameras: []string{"cam_high", "cam_low"}})

	layout, err := episode.ResolveLayout(dir)
	if err != nil {
		t.Fatalf("ResolveLayout: %v", err)
	}
	if layout.Convention != episode.ConventionCurrent {
		t.Fatalf("convention = %s, want current", layout.Convention)
	}
	if got := layout.JointFile(episode.RoleLeftFollower); got != filepath.Join(dir, "joints", "left_follower.jsonl") {
		t.Fatalf("JointFile = %s", got)
	}
	cameras, err := layout.Cameras()
	if err != nil {
		t.Fatalf("Cameras: %v", err)
	}
	if len(cameras) != 2 || cameras[0] != "cam_high" || cameras[1] != "cam_low" {
		t.Fatalf("cameras = %v, want sorted [cam_high cam_low]", cameras)
	}
}

func TestResolveLayoutLegacyConvention(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteEpisode(t, dir, testsupport.EpisodeSpec{Legacy: true})

	layout, err := episode.ResolveLayout(dir)
	if err != nil {
		t.Fatalf("ResolveLayout: %v", err)
	}
	if layout.Convention != episode.ConventionLegacy {
		t.Fatalf("convention = %s, want legacy", layout.Convention)
	}
	if got := layout.JointFile(episode.RoleLeftFollower); got != filepath.Join(dir, "joints", "puppet_left.jsonl") {
		t.Fatalf("JointFile = %s", got)
	}
	if got := layout.JointFile(episode.RoleRightLeader); got != filepath.Join(dir, "joints", "master_right.jsonl") {
		t.Fatalf("JointFile = %s", got)
	}
	if layout.ImagesDir() != filepath.Join(dir, "cameras") {
		t.Fatalf("ImagesDir = %s, want cameras root", layout.ImagesDir())
	}
}

func TestResolveLayoutMissingJoints(t *testing.T) {
	_, err := episode.ResolveLayout(t.TempDir())
	if err == nil {
		t.Fatal("ResolveLayout succeeded on empty dir")
	}
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLoadStreamsParsesAllRoles(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteEpisode(t, dir, testsupport.EpisodeSpec{Samples: 5})

	layout, err := episode.ResolveLayout(dir)
	if err != nil {
		t.Fatalf("ResolveLayout: %v", err)
	}
	streams, err := episode.LoadStreams(layout)
	if err != nil {
		t.Fatalf("LoadStreams: %v", err)
	}
	if err := streams.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	for _, tc := range []struct {
		role   episode.Role
		offset float32
	}{
		{episode.RoleLeftFollower, 0},
		{episode.RoleLeftLeader, 100},
		{episode.RoleRightFollower, 200},
		{episode.RoleRightLeader, 300},
	} {
		stream := streams.ByRole(tc.role)
		if stream.Len() != 5 {
			t.Fatalf("%s len = %d, want 5", tc.role, stream.Len())
		}
		if stream.States[3][0] != tc.offset+3 {
			t.Fatalf("%s sample 3 lead dim = %v, want %v", tc.role, stream.States[3][0], tc.offset+3)
		}
		if len(stream.States[0]) != episode.StateDim {
			t.Fatalf("%s state dim = %d, want %d", tc.role, len(stream.States[0]), episode.StateDim)
		}
	}
}

func TestLoadArmStreamSortsOutOfOrderSamples(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "left_follower.jsonl")
	content := `{"t":3000,"state":[3,0,0,0,0,0,0]}
{"t":1000,"state":[1,0,0,0,0,0,0]}
{"t":2000,"state":[2,0,0,0,0,0,0]}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	stream, err := episode.LoadArmStream(path, episode.RoleLeftFollower)
	if err != nil {
		t.Fatalf("LoadArmStream: %v", err)
	}
	want := []int64{1000, 2000, 3000}
	for i, ts := range want {
		if stream.Timestamps[i] != ts {
			t.Fatalf("timestamps = %v, want %v", stream.Timestamps, want)
		}
		if stream.States[i][0] != float32(i+1) {
			t.Fatalf("state %d moved independently of its timestamp: %v", i, stream.States[i])
		}
	}
}

func TestLoadArmStreamRejectsBadDimensions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "left_leader.jsonl")
	if err := os.WriteFile(path, []byte(`{"t":1,"state":[1,2,3]}`+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := episode.LoadArmStream(path, episode.RoleLeftLeader)
	if !errors.Is(err, services.ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestLoadArmStreamRejectsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "right_leader.jsonl")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := episode.LoadArmStream(path, episode.RoleRightLeader)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestListCameraFramesOrdersAndFilters(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteEpisode(t, dir, testsupport.EpisodeSpec{
		Frames:  3,
		Cameras: []string{"cam_high"},
		StartNS: 1_000_000_000,
		StepNS:  40_000_000,
	})
	camDir := filepath.Join(dir, "images", "cam_high")
	for _, junk := range []string{".DS_Store", "upload.tmp", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(camDir, junk), []byte("x"), 0o644); err != nil {
			t.Fatalf("write junk: %v", err)
		}
	}

	layout, err := episode.ResolveLayout(dir)
	if err != nil {
		t.Fatalf("ResolveLayout: %v", err)
	}
	listings, err := episode.ListCameraFrames(layout)
	if err != nil {
		t.Fatalf("ListCameraFrames: %v", err)
	}
	frames := listings["cam_high"]
	if len(frames) != 3 {
		t.Fatalf("frames = %d, want 3 (junk files must not count)", len(frames))
	}
	for i, frame := range frames {
		if frame.Seq != i {
			t.Fatalf("frame %d has seq %d", i, frame.Seq)
		}
		want := int64(1_000_000_000 + i*40_000_000)
		if frame.Timestamp != want {
			t.Fatalf("frame %d ts = %d, want %d", i, frame.Timestamp, want)
		}
	}
}

func TestLoadMeta(t *testing.T) {
	dir := t.TempDir()

	if _, ok, err := episode.LoadMeta(dir); err != nil || ok {
		t.Fatalf("LoadMeta on empty dir = ok=%v err=%v, want absent", ok, err)
	}

	content := `{"cameras":["cam_high"],"fps":30,"task":"fold_towel"}`
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), []byte(content), 0o644); err != nil {
		t.Fatalf("write meta: %v", err)
	}
	meta, ok, err := episode.LoadMeta(dir)
	if err != nil || !ok {
		t.Fatalf("LoadMeta = ok=%v err=%v", ok, err)
	}
	if meta.FPS != 30 || meta.Task != "fold_towel" || len(meta.Cameras) != 1 {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestIndexFromID(t *testing.T) {
	cases := []struct {
		id      string
		want    int64
		wantErr bool
	}{
		{"episode_0042", 42, false},
		{"episode_123456", 123456, false},
		{"ep7", 7, false},
		{"no_digits_here", 0, true},
	}
	for _, tc := range cases {
		got, err := episode.IndexFromID(tc.id)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("IndexFromID(%q) succeeded, want error", tc.id)
			}
			continue
		}
		if err != nil {
			t.Fatalf("IndexFromID(%q): %v", tc.id, err)
		}
		if got != tc.want {
			t.Fatalf("IndexFromID(%q) = %d, want %d", tc.id, got, tc.want)
		}
	}
}

func TestIsMetadataName(t *testing.T) {
	for name, want := range map[string]bool{
		"meta.json":      true,
		".hidden":        true,
		"upload.tmp":     true,
		"chunk.part":     true,
		"000001_42.jpg":  false,
		"left_follower.jsonl": false,
	} {
		if got := episode.IsMetadataName(name); got != want {
			t.Fatalf("IsMetadataName(%q) = %v, want %v", name, got, want)
		}
	}
}
