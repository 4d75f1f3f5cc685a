package shutdown

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"sd_backend/core"
)

// CleanupTempImages returns a cleanup function that sweeps leftover
// sketch upload files from dir. The sketch handler removes its own
// temp files; this catches the ones orphaned by crashes mid-request.
//
// Individual removal failures are logged and skipped so shutdown never
// blocks on a stuck file. The returned function only errors when the
// directory itself cannot be listed.
func CleanupTempImages(logger *zap.Logger, dir string) core.ShutdownFunc {
	return func(ctx context.Context) error {
		matches, err := filepath.Glob(filepath.Join(dir, "sketch_*"))
		if err != nil {
			return err
		}

		removed := 0
		for _, path := range matches {
			select {
			case <-ctx.Done():
				logger.Warn("temp file sweep cancelled",
					zap.Int("removed", removed),
					zap.Int("remaining", len(matches)-removed))
				return nil
			default:
			}

			if err := os.Remove(path); err != nil {
				logger.Warn("failed to remove temp file",
					zap.String("path", path),
					zap.Error(err))
				continue
			}
			removed++
		}

		if removed > 0 {
			logger.Info("removed leftover temp files",
				zap.Int("count", removed),
				zap.String("dir", dir))
		}
		return nil
	}
}
