package episode

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"loom/internal/services"
)

// Role identifies one arm stream within an episode.
type Role string

const (
	RoleLeftFollower  Role = "left_follower"
	RoleLeftLeader    Role = "left_leader"
	RoleRightFollower Role = "right_follower"
	RoleRightLeader   Role = "right_leader"
)

// Roles lists every arm stream an episode must provide, in the order the
// aligned observation concatenates them.
var Roles = []Role{RoleLeftFollower, RoleLeftLeader, RoleRightFollower, RoleRightLeader}

// StateDim is the per-arm joint dimension.
const StateDim = 7

// Convention names the raw directory convention an episode was uploaded with.
type Convention string

const (
	ConventionCurrent Convention = "current"
	ConventionLegacy  Convention = "legacy"
)

var legacyJointNames = map[Role]string{
	RoleLeftFollower:  "puppet_left",
	RoleLeftLeader:    "master_left",
	RoleRightFollower: "puppet_right",
	RoleRightLeader:   "master_right",
}

// Layout resolves the concrete paths of an episode's raw files.
type Layout struct {
	Root       string
	Convention Convention
	imagesDir  string
}

// ResolveLayout probes root for either directory convention. The joint file
// naming decides the convention; the images root tolerates a mixed tree by
// falling back to whichever of images/ and cameras/ exists.
func ResolveLayout(root string) (Layout, error) {
	jointsDir := filepath.Join(root, "joints")
	layout := Layout{Root: root}

	switch {
	case fileExists(filepath.Join(jointsDir, string(RoleLeftFollower)+".jsonl")):
		layout.Convention = ConventionCurrent
	case fileExists(filepath.Join(jointsDir, legacyJointNames[RoleLeftFollower]+".jsonl")):
		layout.Convention = ConventionLegacy
	default:
		return Layout{}, services.Wrap(services.ErrNotFound, "episode", "resolve layout",
			fmt.Sprintf("no joint files under %s", jointsDir), nil)
	}

	preferred := "images"
	fallback := "cameras"
	if layout.Convention == ConventionLegacy {
		preferred, fallback = fallback, preferred
	}
	switch {
	case dirExists(filepath.Join(root, preferred)):
		layout.imagesDir = filepath.Join(root, preferred)
	case dirExists(filepath.Join(root, fallback)):
		layout.imagesDir = filepath.Join(root, fallback)
	default:
		return Layout{}, services.Wrap(services.ErrNotFound, "episode", "resolve layout",
			fmt.Sprintf("no image root under %s", root), nil)
	}
	return layout, nil
}

// JointFile returns the path of the role's joint series.
func (l Layout) JointFile(role Role) string {
	name := string(role)
	if l.Convention == ConventionLegacy {
		name = legacyJointNames[role]
	}
	return filepath.Join(l.Root, "joints", name+".jsonl")
}

// ImagesDir returns the root holding one subdirectory per camera.
func (l Layout) ImagesDir() string {
	return l.imagesDir
}

// CameraDir returns the directory holding one camera's frames.
func (l Layout) CameraDir(camera string) string {
	return filepath.Join(l.imagesDir, camera)
}

// Cameras lists the camera directories present, sorted by name.
func (l Layout) Cameras() ([]string, error) {
	entries, err := os.ReadDir(l.imagesDir)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	var cameras []string
	for _, entry := range entries {
		if entry.IsDir() {
			cameras = append(cameras, entry.Name())
		}
	}
	sort.Strings(cameras)
	return cameras, nil
}

var trailingDigits = regexp.MustCompile(`(\d+)$`)

// IndexFromID extracts the numeric suffix of an episode identifier, so
// "episode_0042" maps to dataset episode_index 42.
func IndexFromID(episodeID string) (int64, error) {
	match := trailingDigits.FindString(strings.TrimSpace(episodeID))
	if match == "" {
		return 0, fmt.Errorf("episode id %q has no numeric suffix", episodeID)
	}
	index, err := strconv.ParseInt(match, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("episode id %q: parse suffix: %w", episodeID, err)
	}
	return index, nil
}

// IsMetadataName reports whether a file name is bookkeeping rather than
// episode payload: dotfiles, partial uploads, and the episode meta file.
// The scanner and the frame lister both exclude these from counts.
func IsMetadataName(name string) bool {
	if name == "" {
		return true
	}
	if strings.HasPrefix(name, ".") {
		return true
	}
	if strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".part") {
		return true
	}
	return name == "meta.json"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
