package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// CodebaseVersion identifies the dataset format revision consumers expect.
const CodebaseVersion = "v2.0"

// Feature describes one column or video stream in the dataset descriptor.
type Feature struct {
	DType string   `json:"dtype"`
	Shape []int    `json:"shape"`
	Names []string `json:"names"`
}

// Info is the dataset-level descriptor serialized as meta/info.json.
type Info struct {
	CodebaseVersion string             `json:"codebase_version"`
	RobotType       string             `json:"robot_type"`
	TotalEpisodes   int64              `json:"total_episodes"`
	TotalFrames     int64              `json:"total_frames"`
	FPS             float64            `json:"fps"`
	ChunksSize      int                `json:"chunks_size"`
	Features        map[string]Feature `json:"features"`
}

// EpisodeRecord is one meta/episodes.jsonl line.
type EpisodeRecord struct {
	EpisodeIndex int64    `json:"episode_index"`
	Length       int      `json:"length"`
	Tasks        []string `json:"tasks"`
}

// TaskRecord is the single meta/tasks.jsonl entry.
type TaskRecord struct {
	TaskIndex int    `json:"task_index"`
	Task      string `json:"task"`
}

// loadInfo reads the descriptor, or seeds a fresh one when the dataset does
// not exist yet.
func (w *Writer) loadInfo() (Info, error) {
	raw, err := os.ReadFile(w.layout.InfoPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{
				CodebaseVersion: CodebaseVersion,
				RobotType:       w.robotType,
				FPS:             w.fps,
				ChunksSize:      w.layout.ChunkCapacity,
				Features:        map[string]Feature{},
			}, nil
		}
		return Info{}, fmt.Errorf("read info.json: %w", err)
	}
	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return Info{}, fmt.Errorf("parse info.json: %w", err)
	}
	if info.Features == nil {
		info.Features = map[string]Feature{}
	}
	return info, nil
}

// saveInfo writes the descriptor atomically. Go serializes map keys in sorted
// order, so repeated writes of the same state are byte-identical.
func (w *Writer) saveInfo(info Info) error {
	raw, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("encode info.json: %w", err)
	}
	raw = append(raw, '\n')

	path := w.layout.InfoPath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write info.json: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace info.json: %w", err)
	}
	return nil
}

// committedEpisodes returns the set of episode indexes already recorded in
// episodes.jsonl, with their lengths.
func (w *Writer) committedEpisodes() (map[int64]int, error) {
	file, err := os.Open(w.layout.EpisodesPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[int64]int{}, nil
		}
		return nil, fmt.Errorf("open episodes.jsonl: %w", err)
	}
	defer file.Close()

	committed := map[int64]int{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record EpisodeRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("parse episodes.jsonl: %w", err)
		}
		committed[record.EpisodeIndex] = record.Length
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan episodes.jsonl: %w", err)
	}
	return committed, nil
}

// appendEpisode adds one record to episodes.jsonl.
func (w *Writer) appendEpisode(record EpisodeRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode episode record: %w", err)
	}
	file, err := os.OpenFile(w.layout.EpisodesPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open episodes.jsonl: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("append episodes.jsonl: %w", err)
	}
	return file.Close()
}

// ensureTasks writes the single-entry task list on first commit.
func (w *Writer) ensureTasks() error {
	path := w.layout.TasksPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat tasks.jsonl: %w", err)
	}
	raw, err := json.Marshal(TaskRecord{TaskIndex: 0, Task: w.taskLabel})
	if err != nil {
		return fmt.Errorf("encode task record: %w", err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write tasks.jsonl: %w", err)
	}
	return nil
}
