// Package cache maps asset fingerprints to artifacts already published to
// the messaging platform, so repeat requests skip resolution and transfer
// entirely. Entries are a performance optimization, never a correctness
// requirement: anything here can vanish and the pipeline falls back to a
// fresh download.
package cache

import (
	"context"
	"time"

	"github.com/vidrelay/vidrelay/internal/cleanup"
	"github.com/vidrelay/vidrelay/internal/logctx"
	"github.com/vidrelay/vidrelay/internal/storage"
	"github.com/vidrelay/vidrelay/internal/telemetry"
)

// Eviction reasons, bounded for metrics.
const (
	ReasonExpired = "expired"
	ReasonStale   = "stale"
	ReasonAdmin   = "admin"
)

// Service owns the cache mapping and the periodic sweep.
type Service struct {
	repo        storage.CacheRepository
	telemetry   *telemetry.Telemetry
	scratchDir  string
	entryExpiry time.Duration
	scratchAge  time.Duration
}

func NewService(repo storage.CacheRepository, tel *telemetry.Telemetry, scratchDir string, entryExpiry, scratchAge time.Duration) *Service {
	return &Service{
		repo:        repo,
		telemetry:   tel,
		scratchDir:  scratchDir,
		entryExpiry: entryExpiry,
		scratchAge:  scratchAge,
	}
}

// Lookup returns the cached artifact reference for a fingerprint, or
// storage.ErrCacheMiss.
func (s *Service) Lookup(ctx context.Context, fingerprint string) (*storage.CacheRecord, error) {
	record, err := s.repo.Lookup(fingerprint)
	if err == storage.ErrCacheMiss {
		s.telemetry.RecordCacheMiss()

		return nil, err
	}

	if err != nil {
		return nil, err
	}

	s.telemetry.RecordCacheHit()

	return record, nil
}

// Store records the artifact reference for a fingerprint after a successful
// publish.
func (s *Service) Store(ctx context.Context, record storage.CacheRecord) error {
	return s.repo.Store(record)
}

// Evict removes one entry, typically because its artifact reference failed to
// resolve on the platform.
func (s *Service) Evict(ctx context.Context, fingerprint, reason string) error {
	if err := s.repo.Evict(fingerprint); err != nil {
		return err
	}

	s.telemetry.RecordCacheEvictions(reason, 1)

	logctx.LoggerFromContext(ctx).Info("evicted cache entry", "reason", reason)

	return nil
}

// Clear drops every entry. Admin-only operation.
func (s *Service) Clear(ctx context.Context) (int64, error) {
	evicted, err := s.repo.EvictAll()
	if err != nil {
		return 0, err
	}

	s.telemetry.RecordCacheEvictions(ReasonAdmin, evicted)

	return evicted, nil
}

// Entries returns the current entry count for the ops API.
func (s *Service) Entries() (int64, error) {
	return s.repo.CountEntries()
}

// Sweep evicts entries past the expiry and removes stale scratch files. The
// two ages are independent: a scratch file goes stale minutes after its
// pipeline run, a cache entry lives for hours.
func (s *Service) Sweep(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	evicted, err := s.repo.EvictExpired(s.entryExpiry)
	if err != nil {
		return err
	}

	if evicted > 0 {
		s.telemetry.RecordCacheEvictions(ReasonExpired, evicted)

		logger.Info("swept expired cache entries", "evicted", evicted)
	}

	if _, err := cleanup.DeleteStaleScratchFiles(ctx, s.scratchDir, s.scratchAge); err != nil {
		logger.Error("failed to clean scratch directory", "dir", s.scratchDir, "err", err)
	}

	return nil
}

// Run sweeps on a periodic tick until the context is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cache sweeper shutting down")

			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				logger.Error("cache sweep failed", "err", err)
			}
		}
	}
}
