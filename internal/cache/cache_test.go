package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidrelay/vidrelay/internal/storage"
)

// memoryRepository is an in-memory storage.CacheRepository for service tests.
type memoryRepository struct {
	entries map[string]storage.CacheRecord
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{entries: make(map[string]storage.CacheRecord)}
}

func (m *memoryRepository) Lookup(fingerprint string) (*storage.CacheRecord, error) {
	record, ok := m.entries[fingerprint]
	if !ok {
		return nil, storage.ErrCacheMiss
	}

	return &record, nil
}

func (m *memoryRepository) CountEntries() (int64, error) {
	return int64(len(m.entries)), nil
}

func (m *memoryRepository) Store(record storage.CacheRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	m.entries[record.Fingerprint] = record

	return nil
}

func (m *memoryRepository) Evict(fingerprint string) error {
	delete(m.entries, fingerprint)

	return nil
}

func (m *memoryRepository) EvictExpired(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)

	var evicted int64

	for fingerprint, record := range m.entries {
		if record.CreatedAt.Before(cutoff) {
			delete(m.entries, fingerprint)
			evicted++
		}
	}

	return evicted, nil
}

func (m *memoryRepository) EvictAll() (int64, error) {
	evicted := int64(len(m.entries))
	m.entries = make(map[string]storage.CacheRecord)

	return evicted, nil
}

func newTestService(t *testing.T, repo storage.CacheRepository) *Service {
	t.Helper()

	return NewService(repo, nil, t.TempDir(), 24*time.Hour, 10*time.Minute)
}

func TestLookupStoreEvict_RoundTrip(t *testing.T) {
	svc := newTestService(t, newMemoryRepository())
	ctx := context.Background()

	_, err := svc.Lookup(ctx, "fp1")
	assert.ErrorIs(t, err, storage.ErrCacheMiss)

	require.NoError(t, svc.Store(ctx, storage.CacheRecord{Fingerprint: "fp1", ChatID: 1, MessageID: 7}))

	record, err := svc.Lookup(ctx, "fp1")
	require.NoError(t, err)
	assert.Equal(t, 7, record.MessageID)

	require.NoError(t, svc.Evict(ctx, "fp1", ReasonStale))

	_, err = svc.Lookup(ctx, "fp1")
	assert.ErrorIs(t, err, storage.ErrCacheMiss)
}

func TestClear(t *testing.T) {
	repo := newMemoryRepository()
	svc := newTestService(t, repo)
	ctx := context.Background()

	require.NoError(t, svc.Store(ctx, storage.CacheRecord{Fingerprint: "a"}))
	require.NoError(t, svc.Store(ctx, storage.CacheRecord{Fingerprint: "b"}))

	evicted, err := svc.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), evicted)

	count, err := svc.Entries()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSweep_EvictsExpiredEntriesAndScratchFiles(t *testing.T) {
	repo := newMemoryRepository()
	scratchDir := t.TempDir()
	svc := NewService(repo, nil, scratchDir, 24*time.Hour, 10*time.Minute)
	ctx := context.Background()

	require.NoError(t, repo.Store(storage.CacheRecord{
		Fingerprint: "old",
		CreatedAt:   time.Now().Add(-48 * time.Hour),
	}))
	require.NoError(t, repo.Store(storage.CacheRecord{Fingerprint: "fresh"}))

	stale := filepath.Join(scratchDir, "stale.mp4")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, past, past))

	require.NoError(t, svc.Sweep(ctx))

	_, err := repo.Lookup("old")
	assert.ErrorIs(t, err, storage.ErrCacheMiss)

	_, err = repo.Lookup("fresh")
	assert.NoError(t, err)

	assert.NoFileExists(t, stale)
}

func TestSweep_Idempotent(t *testing.T) {
	repo := newMemoryRepository()
	svc := newTestService(t, repo)
	ctx := context.Background()

	require.NoError(t, repo.Store(storage.CacheRecord{
		Fingerprint: "old",
		CreatedAt:   time.Now().Add(-48 * time.Hour),
	}))

	require.NoError(t, svc.Sweep(ctx))

	count, err := repo.CountEntries()
	require.NoError(t, err)
	assert.Zero(t, count)

	// Second pass with no new entries evicts nothing further.
	require.NoError(t, svc.Sweep(ctx))
}
