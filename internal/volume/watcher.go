package volume

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"voicelog/internal/logging"
)

// State is the result of one poll.
type State struct {
	// Present is true once the volume has been observed continuously for the
	// settle window.
	Present bool
	// Settling is true while the volume is visible but not yet confirmed.
	Settling   bool
	Mount      string
	Candidates []FileRef
}

// Absent reports whether the cycle must treat the volume as unavailable.
func (s State) Absent() bool {
	return !s.Present
}

// Watcher debounces volume presence.
type Watcher struct {
	source Source
	settle time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu           sync.Mutex
	mount        string
	firstSeen    time.Time
	observations int
	confirmed    bool
}

// WatcherOption customizes a Watcher.
type WatcherOption func(*Watcher)

// WithSettle sets how long presence must hold before the volume is reported
// Present. Zero confirms on the first observation.
func WithSettle(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d >= 0 {
			w.settle = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) WatcherOption {
	return func(w *Watcher) {
		if now != nil {
			w.now = now
		}
	}
}

// WithLogger sets the watcher logger.
func WithLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logging.NewComponentLogger(logger, "volume")
	}
}

// NewWatcher creates a watcher over source.
func NewWatcher(source Source, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		source: source,
		now:    time.Now,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Poll checks presence and, once confirmed, lists candidates. Errors carry
// services.ErrVolumeUnavailable and reset the debounce.
func (w *Watcher) Poll(ctx context.Context) (State, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	mount, ok, err := w.source.Locate(ctx)
	if err != nil {
		w.resetLocked()
		return State{}, err
	}
	if !ok {
		if w.mount != "" {
			w.logger.Info("volume removed",
				logging.String("mount", w.mount),
				logging.String(logging.FieldEventType, "volume_removed"),
			)
		}
		w.resetLocked()
		return State{}, nil
	}

	now := w.now()
	if mount != w.mount {
		w.resetLocked()
		w.mount = mount
		w.firstSeen = now
		w.logger.Info("volume detected",
			logging.String("mount", mount),
			logging.Duration("settle", w.settle),
			logging.String(logging.FieldEventType, "volume_detected"),
		)
	}
	w.observations++

	if !w.confirmed {
		// Ticker jitter may deliver the next poll marginally early.
		tolerance := w.settle / 10
		elapsed := now.Sub(w.firstSeen)
		if w.settle > 0 && (w.observations < 2 || elapsed < w.settle-tolerance) {
			return State{Settling: true, Mount: mount}, nil
		}
		w.confirmed = true
	}

	candidates, err := w.source.List(ctx, mount)
	if err != nil {
		w.resetLocked()
		return State{}, err
	}
	return State{Present: true, Mount: mount, Candidates: candidates}, nil
}

// Reset forgets any observed presence.
func (w *Watcher) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked()
}

func (w *Watcher) resetLocked() {
	w.mount = ""
	w.firstSeen = time.Time{}
	w.observations = 0
	w.confirmed = false
}
