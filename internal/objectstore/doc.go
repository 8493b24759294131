// Package objectstore provides the S3-compatible client used to discover and
// transfer raw episodes, plus mirror helpers that move whole directory trees
// with bounded retries. Transfer completion is verified by comparing sizes
// against a post-transfer listing rather than trusting tool exit status.
package objectstore
