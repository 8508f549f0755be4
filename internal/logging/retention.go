package logging

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// RetentionTarget selects files under Dir whose slash-separated relative path
// matches Pattern (doublestar syntax, "*" when empty).
type RetentionTarget struct {
	Dir     string
	Pattern string
	Exclude []string
	// KeepNewest retains that many of the most recent matches regardless of age.
	KeepNewest int
}

// RetentionResult totals what a cleanup removed.
type RetentionResult struct {
	Removed int
	Bytes   int64
}

type retentionCandidate struct {
	path    string
	size    int64
	modTime time.Time
}

// CleanupOldLogs removes matching files older than retentionDays. Zero days
// disables pruning. Removal failures are logged and skipped.
func CleanupOldLogs(logger *slog.Logger, retentionDays int, targets ...RetentionTarget) RetentionResult {
	var result RetentionResult
	if retentionDays <= 0 {
		return result
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	for _, target := range targets {
		candidates := collectCandidates(target)
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].modTime.After(candidates[j].modTime)
		})
		for i, candidate := range candidates {
			if i < target.KeepNewest || !candidate.modTime.Before(cutoff) {
				continue
			}
			if err := os.Remove(candidate.path); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
					String("path", candidate.path),
					Error(err),
					String(FieldErrorHint, "check permissions on log_dir and the diagnostics folder"),
					String(FieldImpact, "old log file remains on disk"),
				)
				continue
			}
			result.Removed++
			result.Bytes += candidate.size
		}
	}

	if result.Removed > 0 && logger != nil {
		logger.Info("old logs pruned",
			Int("files", result.Removed),
			Int64("bytes", result.Bytes),
			Int("retention_days", retentionDays),
			String(FieldEventType, "log_pruned"),
		)
	}
	return result
}

func collectCandidates(target RetentionTarget) []retentionCandidate {
	dir := strings.TrimSpace(target.Dir)
	if dir == "" {
		return nil
	}
	pattern := strings.TrimSpace(target.Pattern)
	if pattern == "" {
		pattern = "*"
	}
	excluded := make(map[string]struct{}, len(target.Exclude))
	for _, path := range target.Exclude {
		if abs, err := filepath.Abs(strings.TrimSpace(path)); err == nil && strings.TrimSpace(path) != "" {
			excluded[abs] = struct{}{}
		}
	}

	matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly(), doublestar.WithNoFollow())
	if err != nil {
		return nil
	}
	candidates := make([]retentionCandidate, 0, len(matches))
	for _, rel := range matches {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		if _, skip := excluded[path]; skip {
			continue
		}
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		candidates = append(candidates, retentionCandidate{path: path, size: info.Size(), modTime: info.ModTime()})
	}
	return candidates
}
