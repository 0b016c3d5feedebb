package asset

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
)

// Role classifies the requester for size-ceiling enforcement.
type Role string

const (
	RoleAnonymous Role = "anonymous"
	RoleAdmin     Role = "admin"
)

// ChatKind classifies the destination chat. Group chats carry a stricter
// size ceiling for non-admin requesters.
type ChatKind string

const (
	ChatPrivate ChatKind = "private"
	ChatGroup   ChatKind = "group"
)

// Rendition is one quality/format variant of a source asset.
type Rendition struct {
	ID        string
	Label     string // e.g. "1080p" or "audio"
	Container string
	// SizeBytes is the declared size reported by the extraction backend.
	// Zero means unknown; downstream stages must not trust it.
	SizeBytes int64
}

// Request describes one inbound relay request. It lives from the moment the
// requester picks a rendition until the pipeline reaches a terminal outcome.
type Request struct {
	SourceURL   string
	RenditionID string
	Role        Role
	ChatKind    ChatKind

	// DestinationChat is the chat the artifact is delivered to. Opaque to the
	// pipeline beyond being a publish target.
	DestinationChat int64

	// StatusChat/StatusMessage locate the status message edited by the
	// progress reporter.
	StatusChat    int64
	StatusMessage int
}

// Fingerprint derives the deterministic dedup/cache key for one
// (source URL, rendition) pair.
func Fingerprint(sourceURL, renditionID string) string {
	sum := sha1.Sum([]byte(sourceURL + "|" + renditionID))

	return hex.EncodeToString(sum[:])
}

// Fingerprint returns the dedup/cache key for the request.
func (r *Request) Fingerprint() string {
	return Fingerprint(r.SourceURL, r.RenditionID)
}

// ScratchPath returns the deterministic in-flight download path for a
// fingerprint inside the working directory.
func ScratchPath(dir, fingerprint, ext string) string {
	if ext == "" {
		ext = "bin"
	}

	return filepath.Join(dir, fingerprint+"."+ext)
}
