package episode

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"loom/internal/services"
)

// Frame is one camera image on disk. Seq is the recorder's frame counter,
// Timestamp the capture time in unix nanoseconds encoded in the file name.
type Frame struct {
	Seq       int
	Timestamp int64
	Path      string
}

var frameNamePattern = regexp.MustCompile(`^(\d+)_(\d+)\.(jpg|jpeg)$`)

// ListCameraFrames returns the frame listing of every camera under the
// layout's image root, ordered by sequence number. Cameras without frames
// are omitted.
func ListCameraFrames(layout Layout) (map[string][]Frame, error) {
	cameras, err := layout.Cameras()
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "episode", "list camera frames", layout.ImagesDir(), err)
	}

	listings := make(map[string][]Frame, len(cameras))
	for _, camera := range cameras {
		frames, err := listFrames(layout.CameraDir(camera))
		if err != nil {
			return nil, services.Wrap(nil, "episode", "list camera frames", camera, err)
		}
		if len(frames) > 0 {
			listings[camera] = frames
		}
	}
	if len(listings) == 0 {
		return nil, services.Wrap(services.ErrValidation, "episode", "list camera frames",
			fmt.Sprintf("no frames under %s", layout.ImagesDir()), nil)
	}
	return listings, nil
}

func listFrames(dir string) ([]Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	frames := make([]Frame, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || IsMetadataName(entry.Name()) {
			continue
		}
		match := frameNamePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		seq, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		ts, err := strconv.ParseInt(match[2], 10, 64)
		if err != nil {
			continue
		}
		frames = append(frames, Frame{Seq: seq, Timestamp: ts, Path: filepath.Join(dir, entry.Name())})
	}
	sort.Slice(frames, func(i, j int) bool {
		if frames[i].Seq != frames[j].Seq {
			return frames[i].Seq < frames[j].Seq
		}
		return frames[i].Timestamp < frames[j].Timestamp
	})
	return frames, nil
}

// Meta is the optional per-episode metadata file at the episode root.
type Meta struct {
	Cameras []string `json:"cameras"`
	FPS     float64  `json:"fps"`
	Task    string   `json:"task"`
}

// LoadMeta reads meta.json when present. The boolean reports whether the
// file existed.
func LoadMeta(root string) (Meta, bool, error) {
	raw, err := os.ReadFile(filepath.Join(root, "meta.json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Meta{}, false, nil
		}
		return Meta{}, false, fmt.Errorf("read meta.json: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Meta{}, false, services.Wrap(services.ErrMalformed, "episode", "load meta", root, err)
	}
	return meta, true, nil
}
