package sqlite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidrelay/vidrelay/internal/storage"
)

func newTestRepository(t *testing.T) *CacheRepository {
	t.Helper()

	db, err := InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewCacheRepository(db)
}

func TestStoreAndLookup_RoundTrip(t *testing.T) {
	repo := newTestRepository(t)

	record := storage.CacheRecord{
		Fingerprint: "fp1",
		ChatID:      -100123,
		MessageID:   42,
		FileID:      "BAACAgQAAx",
		Caption:     "some video",
	}

	require.NoError(t, repo.Store(record))

	got, err := repo.Lookup("fp1")
	require.NoError(t, err)

	assert.Equal(t, record.ChatID, got.ChatID)
	assert.Equal(t, record.MessageID, got.MessageID)
	assert.Equal(t, record.FileID, got.FileID)
	assert.Equal(t, record.Caption, got.Caption)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestLookup_Miss(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.Lookup("unknown")
	assert.ErrorIs(t, err, storage.ErrCacheMiss)
}

func TestStore_UpsertReplacesStaleRow(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.Store(storage.CacheRecord{Fingerprint: "fp1", ChatID: 1, MessageID: 10}))
	require.NoError(t, repo.Store(storage.CacheRecord{Fingerprint: "fp1", ChatID: 1, MessageID: 20}))

	got, err := repo.Lookup("fp1")
	require.NoError(t, err)
	assert.Equal(t, 20, got.MessageID)

	count, err := repo.CountEntries()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestEvict(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.Store(storage.CacheRecord{Fingerprint: "fp1", ChatID: 1, MessageID: 10}))
	require.NoError(t, repo.Evict("fp1"))

	_, err := repo.Lookup("fp1")
	assert.ErrorIs(t, err, storage.ErrCacheMiss)
}

func TestEvictExpired(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.Store(storage.CacheRecord{
		Fingerprint: "old",
		ChatID:      1,
		MessageID:   10,
		CreatedAt:   time.Now().Add(-48 * time.Hour),
	}))
	require.NoError(t, repo.Store(storage.CacheRecord{Fingerprint: "fresh", ChatID: 1, MessageID: 11}))

	evicted, err := repo.EvictExpired(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), evicted)

	_, err = repo.Lookup("old")
	assert.ErrorIs(t, err, storage.ErrCacheMiss)

	_, err = repo.Lookup("fresh")
	assert.NoError(t, err)

	// Idempotence: a second sweep with no new entries evicts nothing.
	evicted, err = repo.EvictExpired(24 * time.Hour)
	require.NoError(t, err)
	assert.Zero(t, evicted)
}

func TestEvictAll(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.Store(storage.CacheRecord{Fingerprint: "a", ChatID: 1, MessageID: 1}))
	require.NoError(t, repo.Store(storage.CacheRecord{Fingerprint: "b", ChatID: 1, MessageID: 2}))

	evicted, err := repo.EvictAll()
	require.NoError(t, err)
	assert.Equal(t, int64(2), evicted)

	count, err := repo.CountEntries()
	require.NoError(t, err)
	assert.Zero(t, count)
}
