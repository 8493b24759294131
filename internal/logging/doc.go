// Package logging assembles the structured slog loggers used across loom
// components.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so queue, scanner, and worker
// code automatically tag log lines with episode IDs, task sources, and
// correlation IDs. A no-op logger is provided for tests and wiring code that
// cannot fail.
package logging
