// Package services defines shared utilities consumed by the scanner, worker,
// and pipeline components.
//
// Key responsibilities:
//   - Context helpers that stamp episode IDs, task sources, worker slots, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures so
//     the worker can route them (retry, failed list, or propagate).
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability, retries) stays uniform.
package services
