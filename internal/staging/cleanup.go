package staging

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"voicelog/internal/logging"
)

// PartSuffix marks an in-flight copy.
const PartSuffix = ".part"

// CleanResult contains the outcome of a staging cleanup.
type CleanResult struct {
	Removed []string
	Bytes   int64
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// NewPartPath returns a unique, not yet existing path for an in-flight copy.
func NewPartPath(stagingDir string) string {
	return filepath.Join(stagingDir, uuid.NewString()+PartSuffix)
}

// Clean removes leftover files in stagingDir older than maxAge. A zero maxAge
// removes everything, which is only safe while no copy is in flight.
// Subdirectories are left alone.
func Clean(ctx context.Context, stagingDir string, maxAge time.Duration, logger *slog.Logger) CleanResult {
	result := CleanResult{}

	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return result
	}

	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			result.Errors = append(result.Errors, CleanupError{Path: stagingDir, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(stagingDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			}
			continue
		}
		if maxAge > 0 && !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			if logger != nil {
				logger.Warn("failed to remove staging leftover",
					logging.String("path", path),
					logging.Error(err),
					logging.String(logging.FieldEventType, "staging_cleanup_failed"),
					logging.String(logging.FieldErrorHint, "check permissions on the staging directory"),
					logging.String(logging.FieldImpact, "disk space not reclaimed"),
				)
			}
			continue
		}
		result.Removed = append(result.Removed, path)
		result.Bytes += info.Size()
	}

	if logger != nil && len(result.Removed) > 0 {
		logger.Info("removed staging leftovers",
			logging.Int("count", len(result.Removed)),
			logging.Int64("bytes", result.Bytes),
			logging.String(logging.FieldEventType, "staging_cleanup"),
		)
	}
	return result
}
