package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"voicelog/internal/config"
	"voicelog/internal/ingest"
	"voicelog/internal/ledger"
	"voicelog/internal/logging"
	"voicelog/internal/notifications"
	"voicelog/internal/pipeline"
	"voicelog/internal/status"
	"voicelog/internal/volume"
)

// Cycle triggers.
const (
	TriggerStartup     = "startup"
	TriggerScheduled   = "scheduled"
	TriggerManual      = "manual"
	TriggerVolumeEvent = "volume_event"
	TriggerOnce        = "once"
)

// ErrCycleActive is returned when an operation needs the cycle slot while a
// cycle is running.
var ErrCycleActive = errors.New("an ingestion cycle is already running")

// Deps bundles the collaborators a Manager drives.
type Deps struct {
	Store    *ledger.Store
	Watcher  *volume.Watcher
	Migrator *ingest.Migrator
	Runner   *pipeline.Runner
	Reporter *status.Reporter
	Notifier notifications.Service
}

// Manager schedules and runs ingestion cycles.
type Manager struct {
	cfg      *config.Config
	store    *ledger.Store
	watcher  *volume.Watcher
	migrator *ingest.Migrator
	runner   *pipeline.Runner
	reporter *status.Reporter
	notifier notifications.Service
	logger   *slog.Logger
	interval time.Duration

	// active guards the single cycle slot.
	active atomic.Bool
	paused atomic.Bool
	nudge  chan struct{}
	wg     sync.WaitGroup

	mu          sync.RWMutex
	runCtx      context.Context
	lastSummary *Summary
	lastErr     error
}

// NewManager constructs a manager. A nil Reporter gets a fresh one and a nil
// Notifier sends nothing.
func NewManager(cfg *config.Config, deps Deps, logger *slog.Logger) *Manager {
	reporter := deps.Reporter
	if reporter == nil {
		reporter = status.NewReporter()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	return &Manager{
		cfg:      cfg,
		store:    deps.Store,
		watcher:  deps.Watcher,
		migrator: deps.Migrator,
		runner:   deps.Runner,
		reporter: reporter,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "workflow"),
		interval: cfg.PollInterval(),
		nudge:    make(chan struct{}, 1),
	}
}

// Reporter exposes the status reporter the manager writes to.
func (m *Manager) Reporter() *status.Reporter {
	return m.reporter
}

// Stages returns the enabled pipeline stage names.
func (m *Manager) Stages() []string {
	return m.runner.Stages()
}

// Pause stops scheduled cycles from starting. A cycle already running
// finishes normally. The watcher keeps polling.
func (m *Manager) Pause() {
	if m.paused.Swap(true) {
		return
	}
	m.reporter.SetPaused(true)
	m.logger.Info("ingestion paused", logging.String(logging.FieldEventType, "workflow_paused"))
}

// Resume clears the pause flag and requests an early poll.
func (m *Manager) Resume() {
	if !m.paused.Swap(false) {
		return
	}
	m.reporter.SetPaused(false)
	m.logger.Info("ingestion resumed", logging.String(logging.FieldEventType, "workflow_resumed"))
	m.Nudge()
}

// Paused reports the pause flag.
func (m *Manager) Paused() bool {
	return m.paused.Load()
}

// Active reports whether a cycle currently holds the cycle slot.
func (m *Manager) Active() bool {
	return m.active.Load()
}

// Nudge requests an early poll, typically after a mount event. Nudges that
// arrive while one is pending are coalesced.
func (m *Manager) Nudge() {
	select {
	case m.nudge <- struct{}{}:
	default:
	}
}

// LastSummary returns the summary of the most recent finished cycle.
func (m *Manager) LastSummary() (Summary, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastSummary == nil {
		return Summary{}, false
	}
	return *m.lastSummary, true
}

// LastError returns the most recent cycle-fatal error, if any.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// WithLedgerLock runs fn while holding the cycle slot so operator changes to
// the ledger never interleave with a cycle.
func (m *Manager) WithLedgerLock(fn func() error) error {
	if !m.active.CompareAndSwap(false, true) {
		return ErrCycleActive
	}
	defer m.active.Store(false)
	return fn()
}

func (m *Manager) recordResult(summary Summary, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSummary = &summary
	m.lastErr = err
}
