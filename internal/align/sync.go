package align

import (
	"fmt"
	"sort"

	"loom/internal/services"
)

// SyncCameras builds one anchor per base-camera frame and attaches the
// nearest frame of every other camera. Anchors where any camera has no frame
// within the tolerance are dropped, so every returned anchor references every
// camera in cams. Frame stamps must be ordered by ascending timestamp; a
// non-positive toleranceMS disables the gate.
func SyncCameras(base string, cams map[string][]FrameStamp, toleranceMS int) ([]CameraFrameAnchor, error) {
	baseStamps, ok := cams[base]
	if !ok || len(baseStamps) == 0 {
		return nil, services.Wrap(services.ErrValidation, "align", "sync cameras",
			fmt.Sprintf("base camera %q has no frames", base), nil)
	}
	others := make([]string, 0, len(cams)-1)
	for name, stamps := range cams {
		if name == base {
			continue
		}
		if len(stamps) == 0 {
			return nil, services.Wrap(services.ErrValidation, "align", "sync cameras",
				fmt.Sprintf("camera %q has no frames", name), nil)
		}
		others = append(others, name)
	}
	sort.Strings(others)

	tolerance := msToNS(toleranceMS)
	anchors := make([]CameraFrameAnchor, 0, len(baseStamps))
	for _, stamp := range baseStamps {
		anchor := CameraFrameAnchor{
			Timestamp: stamp.Timestamp,
			PerCamera: map[string]FrameRef{
				base: {SourceIndex: stamp.Index, Timestamp: stamp.Timestamp},
			},
		}
		complete := true
		for _, name := range others {
			match := nearestStamp(cams[name], stamp.Timestamp)
			if tolerance > 0 && absDelta(match.Timestamp, stamp.Timestamp) > tolerance {
				complete = false
				break
			}
			anchor.PerCamera[name] = FrameRef{SourceIndex: match.Index, Timestamp: match.Timestamp}
		}
		if complete {
			anchors = append(anchors, anchor)
		}
	}
	return anchors, nil
}

// nearestStamp returns the stamp closest in time to target, preferring the
// earlier one on ties. stamps must be sorted ascending and non-empty.
func nearestStamp(stamps []FrameStamp, target int64) FrameStamp {
	i := sort.Search(len(stamps), func(k int) bool { return stamps[k].Timestamp >= target })
	if i == 0 {
		return stamps[0]
	}
	if i == len(stamps) {
		return stamps[len(stamps)-1]
	}
	if target-stamps[i-1].Timestamp <= stamps[i].Timestamp-target {
		return stamps[i-1]
	}
	return stamps[i]
}
