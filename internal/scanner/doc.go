// Package scanner discovers complete raw episodes in the object store and
// publishes conversion tasks for them. Completeness is judged from listings
// alone: per-directory file counts plus an upload-stability window.
package scanner
