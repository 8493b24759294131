// Package queue implements the conversion task queue on top of the
// coordination store contract.
//
// Tasks flow through three places: the work list (FIFO, consumed by workers),
// the pending set (publish dedup while a task is queued or in flight), and the
// failed list (dead letters with their original payloads, bulk-replayable).
// Completed episodes leave a TTL'd processed record keyed by source and
// episode so republished tasks short-circuit. All transitions are single
// atomic store operations, which is what makes concurrent publishers and
// workers safe without any queue-level locking.
package queue
