// Package preflight provides readiness checks for the paths, binaries, and
// backing services loom depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup. A failed required check aborts the
//     start instead of letting workers fail the same way on every task.
//   - The CLI "loom check" and "loom status" commands use the check functions
//     to display deployment health.
//
// Checks gated by config (raw directory, object store) are skipped when the
// feature is not configured.
package preflight
