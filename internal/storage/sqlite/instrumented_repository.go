package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/vidrelay/vidrelay/internal/storage"
	"github.com/vidrelay/vidrelay/internal/telemetry"
)

// InstrumentedCacheRepository wraps CacheRepository with telemetry.
type InstrumentedCacheRepository struct {
	repo      *CacheRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedCacheRepository creates a new instrumented cache repository.
func NewInstrumentedCacheRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedCacheRepository {
	return &InstrumentedCacheRepository{
		repo:      NewCacheRepository(dbConn),
		telemetry: tel,
	}
}

// Lookup retrieves a cache entry with telemetry. A cache miss is recorded as
// a successful operation; it is control flow, not a database failure.
func (r *InstrumentedCacheRepository) Lookup(fingerprint string) (*storage.CacheRecord, error) {
	var (
		result *storage.CacheRecord
		err    error
	)

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "lookup", func(ctx context.Context) error {
		result, err = r.repo.Lookup(fingerprint)
		if err == storage.ErrCacheMiss {
			return nil
		}

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, err
}

// CountEntries counts cache entries with telemetry.
func (r *InstrumentedCacheRepository) CountEntries() (int64, error) {
	var (
		result int64
		err    error
	)

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "count_entries", func(ctx context.Context) error {
		result, err = r.repo.CountEntries()

		return err
	})

	if instrumentedErr != nil {
		return 0, instrumentedErr
	}

	return result, nil
}

// Store upserts a cache entry with telemetry.
func (r *InstrumentedCacheRepository) Store(record storage.CacheRecord) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "store", func(ctx context.Context) error {
		return r.repo.Store(record)
	})
}

// Evict removes a cache entry with telemetry.
func (r *InstrumentedCacheRepository) Evict(fingerprint string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "evict", func(ctx context.Context) error {
		return r.repo.Evict(fingerprint)
	})
}

// EvictExpired removes expired cache entries with telemetry.
func (r *InstrumentedCacheRepository) EvictExpired(maxAge time.Duration) (int64, error) {
	var (
		result int64
		err    error
	)

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "evict_expired", func(ctx context.Context) error {
		result, err = r.repo.EvictExpired(maxAge)

		return err
	})

	if instrumentedErr != nil {
		return 0, instrumentedErr
	}

	return result, nil
}

// EvictAll clears the cache with telemetry.
func (r *InstrumentedCacheRepository) EvictAll() (int64, error) {
	var (
		result int64
		err    error
	)

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "evict_all", func(ctx context.Context) error {
		result, err = r.repo.EvictAll()

		return err
	})

	if instrumentedErr != nil {
		return 0, instrumentedErr
	}

	return result, nil
}
