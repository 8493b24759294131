// Package daemon coordinates the long-running loom process.
//
// It wires the coordination store, task queue, episode scanner, and worker
// pool into a single lifecycle with flock-based locking to prevent multiple
// instances. Startup recovers state a previous crash may have left behind:
// orphaned pending reservations are released and abandoned staging
// directories are removed before any worker runs.
//
// Keep orchestration logic here: scanning, conversion, and queue semantics
// live in their respective packages while the daemon focuses on startup,
// shutdown, and background maintenance.
package daemon
