package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransport marks object-store and network failures that were retried
	// and still failed; the task is routed to the failed list.
	ErrTransport = errors.New("transport error")
	// ErrMalformed marks payloads that can never succeed on retry (bad task
	// JSON, truncated raw files); routed straight to the failed list.
	ErrMalformed = errors.New("malformed payload")
	// ErrValidation marks episode data that fails completeness or schema checks.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks invalid or missing configuration discovered at runtime.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks missing episodes, files, or records.
	ErrNotFound = errors.New("not found")
	// ErrExternalTool marks failures of external binaries (ffmpeg).
	ErrExternalTool = errors.New("external tool error")
	// ErrTransient marks failures with no better classification.
	ErrTransient = errors.New("transient failure")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether re-consuming the same task could plausibly
// succeed. Malformed payloads and validation failures fail identically every
// time, so replaying them is operator work, not queue work.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrMalformed), errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration):
		return false
	default:
		return true
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
