package storage

import (
	"errors"
	"time"
)

// ErrCacheMiss is returned by Lookup when no entry exists for a fingerprint.
// It is a control-flow branch for the pipeline, not a failure.
var ErrCacheMiss = errors.New("no cache entry for fingerprint")

// CacheRecord maps an asset fingerprint to an artifact already published to
// the cache channel. Records are immutable once stored; staleness is handled
// by eviction, never by in-place mutation.
type CacheRecord struct {
	Fingerprint string
	ChatID      int64  // chat holding the published artifact
	MessageID   int    // message to copy from
	FileID      string // platform file handle, kept for diagnostics
	Caption     string
	CreatedAt   time.Time
}

// CacheReadRepository serves lookups on the fingerprint key.
type CacheReadRepository interface {
	Lookup(fingerprint string) (*CacheRecord, error)
	CountEntries() (int64, error)
}

// CacheWriteRepository mutates the cache mapping. All writes are keyed by
// fingerprint; EvictExpired and EvictAll report how many entries went away.
type CacheWriteRepository interface {
	Store(record CacheRecord) error
	Evict(fingerprint string) error
	EvictExpired(maxAge time.Duration) (int64, error)
	EvictAll() (int64, error)
}

// CacheRepository combines the read and write halves.
type CacheRepository interface {
	CacheReadRepository
	CacheWriteRepository
}
