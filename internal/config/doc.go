// Package config loads, normalizes, and validates loom's TOML configuration.
//
// Configuration is decoded once at process start into typed sections (paths,
// coordination, object store, scanner, worker, alignment, dataset, logging),
// normalized (path expansion, defaults), and validated. Components receive
// the sections they need at construction and never re-validate per call.
package config
