package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"loom/internal/textutil"
)

// Source identifies where a task's raw episode lives.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// KnownSources lists every valid task source.
var KnownSources = []Source{SourceLocal, SourceRemote}

// ValidSource reports whether s is a known task source.
func ValidSource(s Source) bool {
	return s == SourceLocal || s == SourceRemote
}

// Alignment strategy names carried on tasks.
const (
	StrategyNearest  = "nearest"
	StrategyWindow   = "window"
	StrategyChunking = "chunking"
)

// ValidStrategy reports whether name is a known alignment strategy.
func ValidStrategy(name string) bool {
	switch name {
	case StrategyNearest, StrategyWindow, StrategyChunking:
		return true
	}
	return false
}

// ConversionTask is one episode conversion request.
type ConversionTask struct {
	EpisodeID       string
	Source          Source
	Strategy        string
	ConfigOverrides map[string]string
	CreatedAt       time.Time
}

// Identity returns the dedup key for the task. Two tasks for the same source
// and episode are the same unit of work.
func (t *ConversionTask) Identity() string {
	return string(t.Source) + ":" + t.EpisodeID
}

// Validate checks the task fields that every consumer depends on. Episode IDs
// must already be safe tokens: they become staging directory names, so
// anything SanitizeToken would rewrite is rejected rather than silently
// renamed.
func (t *ConversionTask) Validate() error {
	if strings.TrimSpace(t.EpisodeID) == "" {
		return fmt.Errorf("task episode_id is empty")
	}
	if t.EpisodeID != textutil.SanitizeToken(t.EpisodeID) {
		return fmt.Errorf("task episode_id %q is not a safe token", t.EpisodeID)
	}
	if !ValidSource(t.Source) {
		return fmt.Errorf("task source %q is not local or remote", t.Source)
	}
	if t.Strategy != "" && !ValidStrategy(t.Strategy) {
		return fmt.Errorf("task strategy %q is unknown", t.Strategy)
	}
	return nil
}

type taskWire struct {
	EpisodeID       string            `json:"episode_id"`
	Source          string            `json:"source"`
	Strategy        string            `json:"strategy"`
	ConfigOverrides map[string]string `json:"config_overrides"`
	Timestamp       string            `json:"timestamp"`
}

// Encode serializes the task into its wire format.
func (t *ConversionTask) Encode() ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	overrides := t.ConfigOverrides
	if overrides == nil {
		overrides = map[string]string{}
	}
	payload, err := json.Marshal(taskWire{
		EpisodeID:       t.EpisodeID,
		Source:          string(t.Source),
		Strategy:        t.Strategy,
		ConfigOverrides: overrides,
		Timestamp:       created.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	return payload, nil
}

// DecodeTask parses a wire payload back into a task.
func DecodeTask(payload []byte) (*ConversionTask, error) {
	var wire taskWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	task := &ConversionTask{
		EpisodeID:       wire.EpisodeID,
		Source:          Source(wire.Source),
		Strategy:        wire.Strategy,
		ConfigOverrides: wire.ConfigOverrides,
	}
	if wire.Timestamp != "" {
		created, err := time.Parse(time.RFC3339Nano, wire.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("parse task timestamp %q: %w", wire.Timestamp, err)
		}
		task.CreatedAt = created
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	return task, nil
}

// FailedEntry is a dead-lettered task with its failure context. Task holds
// the original wire payload verbatim so replay republishes exactly what was
// consumed.
type FailedEntry struct {
	Task     json.RawMessage `json:"task"`
	Error    string          `json:"error"`
	FailedAt time.Time       `json:"failed_at"`
}

// DecodeTask parses the embedded original task.
func (e *FailedEntry) DecodeTask() (*ConversionTask, error) {
	return DecodeTask(e.Task)
}
