package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"voicelog/internal/config"
	"voicelog/internal/ledger"
	"voicelog/internal/logging"
	"voicelog/internal/recorder"
	"voicelog/internal/stage"
	"voicelog/internal/status"
	"voicelog/internal/workflow"
)

// ErrAlreadyRunning reports that another daemon holds the instance lock.
var ErrAlreadyRunning = errors.New("another voicelog daemon instance is already running")

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *ledger.Store
	workflow *workflow.Manager
	recorder *recorder.Supervisor
	logPath  string

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt atomic.Pointer[time.Time]
	apiAddr   atomic.Pointer[string]

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// Status represents daemon runtime information.
type Status struct {
	Running     bool              `json:"running"`
	PID         int               `json:"pid"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	Paused      bool              `json:"paused"`
	CycleActive bool              `json:"cycle_active"`
	Cycle       status.CycleState `json:"cycle"`
	LastSummary *workflow.Summary `json:"last_summary,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	Recorder    recorder.Status   `json:"recorder"`
	Ledger      ledger.Stats      `json:"ledger"`
	LedgerError string            `json:"ledger_error,omitempty"`
	Stages      []stage.Health    `json:"stages"`
	LedgerPath  string            `json:"ledger_path"`
	LockPath    string            `json:"lock_path"`
	LogPath     string            `json:"log_path,omitempty"`
	APIAddress  string            `json:"api_address,omitempty"`
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithInstanceLock hands the daemon an instance lock the caller already
// holds. Run keeps it and releases it on exit.
func WithInstanceLock(lock *flock.Flock) Option {
	return func(d *Daemon) {
		if lock != nil {
			d.lock = lock
			d.lockPath = lock.Path()
		}
	}
}

// New constructs a daemon. rec may be nil when no recorder is configured.
func New(cfg *config.Config, store *ledger.Store, wf *workflow.Manager, rec *recorder.Supervisor, logger *slog.Logger, logPath string, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil {
		return nil, errors.New("daemon requires config, ledger, and workflow manager")
	}
	if rec == nil {
		rec = recorder.New(cfg, logger)
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workflow: wf,
		recorder: rec,
		logPath:  logPath,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		shutdown: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run acquires the instance lock and runs the workflow manager, recorder,
// volume monitors and HTTP API until ctx is canceled or Shutdown is called.
func (d *Daemon) Run(ctx context.Context) error {
	if err := os.MkdirAll(d.cfg.App.LogDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock",
				logging.Error(err),
				logging.String(logging.FieldEventType, "daemon_unlock_failed"),
				logging.String(logging.FieldImpact, "the next start may report a running instance"),
				logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
			)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.shutdown:
			cancel()
		case <-ctx.Done():
		}
	}()

	api, err := newAPIServer(d.cfg, d, d.logger)
	if err != nil {
		return err
	}
	if err := api.start(ctx); err != nil {
		return err
	}
	defer api.stop()
	if addr := api.address(); addr != "" {
		d.apiAddr.Store(&addr)
	}

	netlinkMon := newNetlinkMonitor(d.cfg, d.logger, d.workflow.Nudge)
	_ = netlinkMon.Start(ctx)
	defer netlinkMon.Stop()

	now := time.Now()
	d.startedAt.Store(&now)
	d.running.Store(true)
	defer d.running.Store(false)
	d.logger.Info("voicelog daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("pid", os.Getpid()),
		logging.String(logging.FieldEventType, "daemon_start"),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.workflow.Run(gctx)
	})
	g.Go(func() error {
		if err := d.recorder.Run(gctx); err != nil && gctx.Err() == nil {
			d.logger.Warn("recorder supervisor stopped",
				logging.Error(err),
				logging.String(logging.FieldEventType, "recorder_supervisor_failed"),
				logging.String(logging.FieldImpact, "no new recordings are captured"),
				logging.String(logging.FieldErrorHint, "check the recorder command and its log"),
			)
		}
		return nil
	})
	g.Go(func() error {
		return newMountMonitor(d.cfg, d.logger, d.workflow.Nudge).Run(gctx)
	})
	err = g.Wait()

	d.logger.Info("voicelog daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
	return err
}

// Shutdown asks Run to return. It is safe to call more than once.
func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdown) })
}

// Running reports whether Run is active.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Pause stops new cycles; a running cycle finishes.
func (d *Daemon) Pause() {
	d.workflow.Pause()
}

// Resume re-enables cycles.
func (d *Daemon) Resume() {
	d.workflow.Resume()
}

// RunOnce requests an immediate cycle. It returns false when the request was
// dropped.
func (d *Daemon) RunOnce() bool {
	return d.workflow.RunOnce()
}

// ListLedger returns ledger entries matching filter.
func (d *Daemon) ListLedger(ctx context.Context, filter ledger.Filter) ([]*ledger.Entry, error) {
	return d.store.List(ctx, filter)
}

// LedgerEntry returns one ledger entry.
func (d *Daemon) LedgerEntry(ctx context.Context, identity string) (*ledger.Entry, error) {
	return d.store.Get(ctx, identity)
}

// ResetStage returns a stage (and its dependents) to NotRun, or every failed
// stage when stageName is empty. It refuses while a cycle is running.
func (d *Daemon) ResetStage(ctx context.Context, identity, stageName string) ([]string, error) {
	var reset []string
	err := d.workflow.WithLedgerLock(func() error {
		if stageName == "" {
			var err error
			reset, err = d.store.ResetFailed(ctx, identity)
			return err
		}
		if !d.stageEnabled(stageName) {
			return fmt.Errorf("unknown or disabled stage %q", stageName)
		}
		if err := d.store.ResetStage(ctx, identity, stageName); err != nil {
			return err
		}
		reset = []string{stageName}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(reset) > 0 {
		d.logger.Info("ledger stages reset",
			logging.String(logging.FieldSourceIdentity, identity),
			logging.Any("stages", reset),
			logging.String(logging.FieldEventType, "ledger_stage_reset"),
		)
		d.workflow.Nudge()
	}
	return reset, nil
}

func (d *Daemon) stageEnabled(name string) bool {
	for _, s := range d.workflow.Stages() {
		if s == name {
			return true
		}
	}
	return false
}

// Status aggregates the cycle snapshot, recorder state, ledger statistics and
// stage readiness.
func (d *Daemon) Status(ctx context.Context) Status {
	st := Status{
		Running:     d.running.Load(),
		PID:         os.Getpid(),
		Paused:      d.workflow.Paused(),
		CycleActive: d.workflow.Active(),
		Cycle:       d.workflow.Reporter().Snapshot(),
		Recorder:    d.recorder.Status(),
		Stages:      d.workflow.StageHealth(ctx),
		LedgerPath:  d.store.Path(),
		LockPath:    d.lockPath,
		LogPath:     d.logPath,
	}
	if started := d.startedAt.Load(); started != nil {
		t := *started
		st.StartedAt = &t
	}
	if addr := d.apiAddr.Load(); addr != nil {
		st.APIAddress = *addr
	}
	if summary, ok := d.workflow.LastSummary(); ok {
		st.LastSummary = &summary
	}
	if err := d.workflow.LastError(); err != nil {
		st.LastError = err.Error()
	}
	stats, err := d.store.Stats(ctx)
	if err != nil {
		st.LedgerError = err.Error()
	} else {
		st.Ledger = stats
	}
	return st
}
