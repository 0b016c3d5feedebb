package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/vidrelay/vidrelay/internal/logctx"
)

// DeleteStaleScratchFiles removes in-flight download leftovers older than
// maxAge from the working directory. A crashed or interrupted pipeline run is
// the only way a scratch file outlives its request, so age is the only
// criterion.
func DeleteStaleScratchFiles(ctx context.Context, dir string, maxAge time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, err
	}

	removed := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue // raced with a concurrent delete
		}

		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}

		filePath := filepath.Join(dir, entry.Name())

		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			logger.Error("failed to delete stale scratch file", "file", filePath, "err", err)

			continue
		}

		logger.Info("deleted stale scratch file", "file", filePath)

		removed++
	}

	return removed, nil
}
