package volume

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sys/unix"

	"voicelog/internal/config"
	"voicelog/internal/logging"
	"voicelog/internal/services"
)

// Source reports whether the volume is mounted and lists its candidates.
type Source interface {
	Locate(ctx context.Context) (mount string, ok bool, err error)
	List(ctx context.Context, mount string) ([]FileRef, error)
}

// DefaultExcludes hide dot files and everything under dot directories,
// including macOS "._" resource forks.
var DefaultExcludes = []string{"**/.*", "**/.*/**"}

// MountSource finds the volume under the configured mount roots.
type MountSource struct {
	deviceName        string
	roots             []string
	subdir            string
	requireMountPoint bool
	matcher           matcher
	logger            *slog.Logger
}

// NewMountSource builds a MountSource from the volume configuration.
func NewMountSource(cfg *config.Config, logger *slog.Logger) *MountSource {
	return &MountSource{
		deviceName:        cfg.Volume.DeviceName,
		roots:             append([]string(nil), cfg.Volume.MountRoots...),
		subdir:            cfg.Volume.SourceSubdir,
		requireMountPoint: cfg.Volume.RequireMountPoint,
		matcher:           newMatcher(cfg.Volume.AudioExtensions, cfg.Volume.IncludePatterns, cfg.Volume.ExcludePatterns),
		logger:            logging.NewComponentLogger(logger, "volume"),
	}
}

// Roots returns the directories searched for the volume.
func (s *MountSource) Roots() []string {
	return append([]string(nil), s.roots...)
}

// Locate returns the mounted volume directory. An exact name match under any
// root wins over a case-insensitive or partial match.
func (s *MountSource) Locate(ctx context.Context) (string, bool, error) {
	if s.deviceName == "" {
		return "", false, services.Wrap(services.ErrConfiguration, "volume", "locate", "device name is empty", nil)
	}
	for _, root := range s.roots {
		candidate := filepath.Join(root, s.deviceName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() && s.acceptMount(candidate) {
			return candidate, true, nil
		}
	}

	want := strings.ToLower(s.deviceName)
	for _, root := range s.roots {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
				continue
			}
			return "", false, services.Wrap(services.ErrVolumeUnavailable, "volume", "locate", "read mount root "+root, err)
		}
		var partial string
		for _, entry := range entries {
			if !entry.IsDir() && entry.Type()&fs.ModeSymlink == 0 {
				continue
			}
			name := strings.ToLower(entry.Name())
			candidate := filepath.Join(root, entry.Name())
			switch {
			case name == want:
				if s.acceptMount(candidate) {
					return candidate, true, nil
				}
			case partial == "" && strings.Contains(name, want):
				if s.acceptMount(candidate) {
					partial = candidate
				}
			}
		}
		if partial != "" {
			return partial, true, nil
		}
	}
	return "", false, nil
}

func (s *MountSource) acceptMount(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	if !s.requireMountPoint {
		return true
	}
	mounted, err := isMountPoint(dir)
	if err != nil {
		s.logger.Debug("mount point check failed", logging.String("path", dir), logging.Error(err))
		return false
	}
	return mounted
}

// isMountPoint reports whether dir lives on a different device than its
// parent, which distinguishes a real mount from a stale empty directory.
func isMountPoint(dir string) (bool, error) {
	var self, parent unix.Stat_t
	if err := unix.Stat(dir, &self); err != nil {
		return false, err
	}
	if err := unix.Stat(filepath.Dir(dir), &parent); err != nil {
		return false, err
	}
	return self.Dev != parent.Dev || self.Ino == parent.Ino, nil
}

// List walks the source directory on mount and returns the matching audio
// files ordered oldest first.
func (s *MountSource) List(ctx context.Context, mount string) ([]FileRef, error) {
	scanRoot := mount
	if s.subdir != "" {
		scanRoot = filepath.Join(mount, filepath.FromSlash(s.subdir))
	}
	if _, err := os.Stat(mount); err != nil {
		return nil, services.Wrap(services.ErrVolumeUnavailable, "volume", "list", "volume vanished", err)
	}
	if info, err := os.Stat(scanRoot); err != nil || !info.IsDir() {
		s.logger.Debug("source directory missing on volume", logging.String("path", scanRoot))
		return nil, nil
	}

	var refs []FileRef
	err := filepath.WalkDir(scanRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == scanRoot {
				return walkErr
			}
			s.logger.Warn("skipping unreadable path on volume",
				logging.String("path", path),
				logging.Error(walkErr),
				logging.String(logging.FieldEventType, "volume_path_unreadable"),
				logging.String(logging.FieldImpact, "files below this path are not ingested"),
				logging.String(logging.FieldErrorHint, "check the volume's file permissions"),
			)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == scanRoot {
			return nil
		}
		rel, err := filepath.Rel(scanRoot, path)
		if err != nil {
			return nil
		}
		rel = NormalizeRel(filepath.ToSlash(rel))
		if d.IsDir() {
			if s.matcher.excluded(rel) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !s.matcher.match(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// Removed between readdir and stat.
			return nil
		}
		refs = append(refs, FileRef{
			Path:     path,
			RelPath:  rel,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Identity: Identity(rel, info.Size(), info.ModTime()),
		})
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, services.Wrap(services.ErrVolumeUnavailable, "volume", "list", fmt.Sprintf("walk %s", scanRoot), err)
	}
	SortOldestFirst(refs)
	return refs, nil
}

// SortOldestFirst orders refs by modification time, then relative path.
func SortOldestFirst(refs []FileRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		if !refs[i].ModTime.Equal(refs[j].ModTime) {
			return refs[i].ModTime.Before(refs[j].ModTime)
		}
		return refs[i].RelPath < refs[j].RelPath
	})
}

type matcher struct {
	extensions map[string]struct{}
	include    []string
	exclude    []string
}

func newMatcher(extensions, include, exclude []string) matcher {
	m := matcher{extensions: make(map[string]struct{}, len(extensions))}
	for _, ext := range extensions {
		m.extensions[strings.ToLower(ext)] = struct{}{}
	}
	for _, pattern := range include {
		m.include = append(m.include, strings.ToLower(pattern))
	}
	for _, pattern := range append(append([]string(nil), DefaultExcludes...), exclude...) {
		m.exclude = append(m.exclude, strings.ToLower(pattern))
	}
	return m
}

func (m matcher) excluded(rel string) bool {
	lower := strings.ToLower(rel)
	for _, pattern := range m.exclude {
		if ok, _ := doublestar.Match(pattern, lower); ok {
			return true
		}
	}
	return false
}

func (m matcher) match(rel string) bool {
	lower := strings.ToLower(rel)
	if _, ok := m.extensions[strings.ToLower(filepath.Ext(lower))]; !ok {
		return false
	}
	if m.excluded(rel) {
		return false
	}
	if len(m.include) == 0 {
		return true
	}
	for _, pattern := range m.include {
		if ok, _ := doublestar.Match(pattern, lower); ok {
			return true
		}
	}
	return false
}
