package dataset

import (
	"fmt"
	"path/filepath"
)

// DefaultChunkCapacity is the number of episodes grouped per chunk directory.
const DefaultChunkCapacity = 1000

// Layout computes the on-disk paths of one dataset rooted at Root.
type Layout struct {
	Root          string
	ChunkCapacity int
}

// NewLayout returns a layout; non-positive capacities fall back to the default.
func NewLayout(root string, chunkCapacity int) Layout {
	if chunkCapacity < 1 {
		chunkCapacity = DefaultChunkCapacity
	}
	return Layout{Root: root, ChunkCapacity: chunkCapacity}
}

func (l Layout) chunkName(episodeIndex int64) string {
	return fmt.Sprintf("chunk-%03d", episodeIndex/int64(l.ChunkCapacity))
}

func episodeName(episodeIndex int64, ext string) string {
	return fmt.Sprintf("episode_%06d%s", episodeIndex, ext)
}

// MetaDir returns the descriptor directory.
func (l Layout) MetaDir() string { return filepath.Join(l.Root, "meta") }

// InfoPath returns the dataset descriptor path.
func (l Layout) InfoPath() string { return filepath.Join(l.MetaDir(), "info.json") }

// EpisodesPath returns the per-episode record file.
func (l Layout) EpisodesPath() string { return filepath.Join(l.MetaDir(), "episodes.jsonl") }

// TasksPath returns the task list file.
func (l Layout) TasksPath() string { return filepath.Join(l.MetaDir(), "tasks.jsonl") }

// LockPath returns the advisory lock guarding metadata updates.
func (l Layout) LockPath() string { return filepath.Join(l.MetaDir(), ".lock") }

// DataPath returns the parquet file of one episode.
func (l Layout) DataPath(episodeIndex int64) string {
	return filepath.Join(l.Root, "data", l.chunkName(episodeIndex), episodeName(episodeIndex, ".parquet"))
}

// VideoKey returns the feature key of one camera's video stream.
func VideoKey(camera string) string { return "observation.images." + camera }

// VideoPath returns the mp4 file of one camera of one episode.
func (l Layout) VideoPath(camera string, episodeIndex int64) string {
	return filepath.Join(l.Root, "videos", l.chunkName(episodeIndex), VideoKey(camera), episodeName(episodeIndex, ".mp4"))
}
