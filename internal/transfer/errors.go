package transfer

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// NetworkError represents a failed download attempt: connection failures,
// non-success HTTP statuses, and stalled reads aborted by the idle watchdog.
type NetworkError struct {
	URL        string // The stream URL that failed (may be credentialed; log with care)
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Reason     string // Human-readable explanation of the failure
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("download failed (HTTP %d): %s", e.StatusCode, e.Reason)
	}

	return fmt.Sprintf("download failed: %s", e.Reason)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// SizeLimitError means the actual transferred bytes exceeded the ceiling
// mid-stream. Declared sizes are untrusted, so this check runs per chunk.
type SizeLimitError struct {
	BytesRead int64 // Bytes written before the abort
	Ceiling   int64 // The ceiling that was crossed
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("transfer aborted at %s: exceeds the %s ceiling",
		humanize.Bytes(uint64(e.BytesRead)), humanize.Bytes(uint64(e.Ceiling)))
}
