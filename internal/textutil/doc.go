// Package textutil provides small text helpers for key and filename
// sanitization and for deriving human-readable labels from slugs.
package textutil
