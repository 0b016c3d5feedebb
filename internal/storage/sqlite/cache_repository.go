package sqlite

import (
	"database/sql"
	"time"

	"github.com/vidrelay/vidrelay/internal/storage"
)

type CacheRepository struct {
	db *sql.DB
}

func NewCacheRepository(dbConn *sql.DB) *CacheRepository {
	return &CacheRepository{db: dbConn}
}

func (r *CacheRepository) Lookup(fingerprint string) (*storage.CacheRecord, error) {
	record := storage.CacheRecord{Fingerprint: fingerprint}

	var (
		fileID    sql.NullString
		caption   sql.NullString
		createdAt string
	)

	err := r.db.QueryRow(
		`SELECT chat_id, message_id, file_id, caption, created_at FROM cache_entries WHERE fingerprint = ?`,
		fingerprint,
	).Scan(&record.ChatID, &record.MessageID, &fileID, &caption, &createdAt)

	if err == sql.ErrNoRows {
		return nil, storage.ErrCacheMiss
	}

	if err != nil {
		return nil, err
	}

	record.FileID = fileID.String
	record.Caption = caption.String

	if parsed, err := time.Parse(time.RFC3339, createdAt); err == nil {
		record.CreatedAt = parsed
	}

	return &record, nil
}

func (r *CacheRepository) CountEntries() (int64, error) {
	var count int64

	err := r.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&count)

	return count, err
}

// Store upserts the mapping for a fingerprint. A re-publish after an eviction
// replaces the stale row.
func (r *CacheRepository) Store(record storage.CacheRecord) error {
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.Exec(`
		INSERT INTO cache_entries (fingerprint, chat_id, message_id, file_id, caption, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			chat_id = excluded.chat_id,
			message_id = excluded.message_id,
			file_id = excluded.file_id,
			caption = excluded.caption,
			created_at = excluded.created_at
	`, record.Fingerprint, record.ChatID, record.MessageID, record.FileID, record.Caption, createdAt.Format(time.RFC3339))

	return err
}

func (r *CacheRepository) Evict(fingerprint string) error {
	_, err := r.db.Exec(`DELETE FROM cache_entries WHERE fingerprint = ?`, fingerprint)

	return err
}

// EvictExpired removes entries older than maxAge and returns how many rows
// were deleted.
func (r *CacheRepository) EvictExpired(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Format(time.RFC3339)

	res, err := r.db.Exec(`DELETE FROM cache_entries WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (r *CacheRepository) EvictAll() (int64, error) {
	res, err := r.db.Exec(`DELETE FROM cache_entries`)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
