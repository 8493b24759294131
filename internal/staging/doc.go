// Package staging manages the scratch directories remote conversions are
// mirrored into. Directory lifecycle is owned by the worker that created the
// directory; the cleanup helpers here reclaim space when a worker died before
// its own cleanup ran.
package staging
