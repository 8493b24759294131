// Package main hosts the loom CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into
// coordination-store operations: queue inspection, manual task publishing,
// failed-list replay, one-shot conversions, discovery cycles, and
// configuration scaffolding. The CLI talks to the same embedded store the
// daemon uses, so every command works whether or not a daemon is running.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
