package daemon

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"voicelog/internal/config"
	"voicelog/internal/logging"
)

// mountDebounce coalesces the burst of events a mount produces.
const mountDebounce = 250 * time.Millisecond

// mountMonitor watches the mount roots for the volume directory appearing or
// disappearing and requests an early poll. It works on every platform
// fsnotify supports, including /Volumes on macOS.
type mountMonitor struct {
	roots  []string
	device string
	nudge  func()
	logger *slog.Logger
}

func newMountMonitor(cfg *config.Config, logger *slog.Logger, nudge func()) *mountMonitor {
	return &mountMonitor{
		roots:  append([]string(nil), cfg.Volume.MountRoots...),
		device: strings.ToLower(cfg.Volume.DeviceName),
		nudge:  nudge,
		logger: logging.NewComponentLogger(logger, "mount-monitor"),
	}
}

// Run watches until ctx is canceled. Missing roots are skipped; with no
// watchable root the monitor returns immediately and polling takes over.
func (m *mountMonitor) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		m.logger.Warn("mount monitor unavailable",
			logging.Error(err),
			logging.String(logging.FieldEventType, "mount_monitor_unavailable"),
			logging.String(logging.FieldImpact, "volume insertion is noticed on the next poll"),
			logging.String(logging.FieldErrorHint, "raise fs.inotify.max_user_instances if exhausted"),
		)
		return nil
	}
	defer w.Close()

	watched := 0
	for _, root := range m.roots {
		info, statErr := os.Stat(root)
		if statErr != nil || !info.IsDir() {
			continue
		}
		if addErr := w.Add(root); addErr != nil {
			m.logger.Debug("mount root not watchable", logging.String("root", root), logging.Error(addErr))
			continue
		}
		watched++
	}
	if watched == 0 {
		m.logger.Debug("no mount roots to watch", logging.Any("roots", m.roots))
		return nil
	}
	m.logger.Info("mount monitor started",
		logging.Int("roots", watched),
		logging.String(logging.FieldEventType, "mount_monitor_started"),
	)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(mountDebounce)
			timerCh = timer.C
			return
		}
		timer.Reset(mountDebounce)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case <-timerCh:
			timer, timerCh = nil, nil
			if m.nudge != nil {
				m.nudge()
			}
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !m.relevant(ev) {
				continue
			}
			m.logger.Debug("mount root changed",
				logging.String("path", ev.Name),
				logging.String("op", ev.Op.String()),
			)
			schedule()
		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if errors.Is(werr, fsnotify.ErrEventOverflow) {
				schedule()
				continue
			}
			m.logger.Warn("mount monitor error",
				logging.Error(werr),
				logging.String(logging.FieldEventType, "mount_monitor_error"),
				logging.String(logging.FieldImpact, "volume insertion may only be noticed by polling"),
				logging.String(logging.FieldErrorHint, "check mount root permissions"),
			)
		}
	}
}

func (m *mountMonitor) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	return strings.Contains(strings.ToLower(filepath.Base(ev.Name)), m.device)
}
