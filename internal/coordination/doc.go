// Package coordination provides the shared state store that publishers, the
// episode scanner, and conversion workers coordinate through.
//
// The Store contract exposes key/value records with TTLs, membership sets,
// FIFO lists, and counters, plus the composite operations that must be atomic
// (publish-unless-pending, record-and-release, fail-and-release). The SQLite
// implementation keeps all state in a single embedded database so a host needs
// no external broker; every composite runs in one transaction.
package coordination
