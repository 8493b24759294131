// Package worker runs the conversion consumers. A fixed pool of slots blocks
// on the task queue, stages remote episodes through the object store, and
// hands each episode tree to the conversion pipeline. All cross-slot
// coordination goes through the queue's store; the slots themselves share
// nothing.
package worker
