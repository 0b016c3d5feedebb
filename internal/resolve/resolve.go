// Package resolve turns a user-supplied URL into something the transfer
// engine can download: either a ranked list of renditions the requester picks
// from, or a single direct stream with whatever metadata the host exposes.
package resolve

import (
	"context"
	"fmt"

	"github.com/vidrelay/vidrelay/internal/asset"
)

// AudioRenditionID selects the best-audio rendition instead of a specific
// video format.
const AudioRenditionID = "audio"

// Resolution is the outcome of the first resolver round-trip. Multi-quality
// sources carry Renditions; single-asset hosts carry exactly one rendition
// whose metadata may be partially or fully unknown.
type Resolution struct {
	Title        string
	ThumbnailURL string
	Renditions   []asset.Rendition
}

// Stream is the outcome of the second round-trip, once a rendition has been
// chosen. URL is directly downloadable and typically short-lived.
type Stream struct {
	URL          string
	Title        string
	ThumbnailURL string
	Container    string
	// SizeBytes is declared, not authoritative. Zero means unknown.
	SizeBytes int64
}

// Resolver resolves source URLs against one extraction backend.
type Resolver interface {
	// Resolve lists the available renditions for a source URL.
	Resolve(ctx context.Context, sourceURL string) (*Resolution, error)

	// ResolveRendition produces a downloadable stream for a chosen rendition.
	// Stream URLs expire, so this is called again right before the transfer
	// rather than reusing state from Resolve.
	ResolveRendition(ctx context.Context, sourceURL, renditionID string) (*Stream, error)
}

// ResolutionError represents a source URL that could not be resolved to a
// downloadable asset: unsupported host, extraction backend failure, or no
// usable formats.
type ResolutionError struct {
	URL    string // The source URL that failed to resolve
	Reason string // Human-readable explanation
	Err    error  // Underlying error, if any
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve %s: %s", e.URL, e.Reason)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
