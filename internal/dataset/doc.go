// Package dataset writes aligned episodes into the standardized output
// layout: parquet frame tables under data/, per-camera mp4 streams under
// videos/, and the meta/ descriptors (info.json, episodes.jsonl,
// tasks.jsonl). Multiple workers may commit into one dataset concurrently;
// the metadata read-modify-write runs under a file lock so episode and frame
// totals stay consistent.
package dataset
