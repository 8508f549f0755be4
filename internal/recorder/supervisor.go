package recorder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"voicelog/internal/config"
	"voicelog/internal/logging"
	"voicelog/internal/notifications"
	"voicelog/internal/supervise"
)

// LogFileName is the file in the log directory receiving recorder output.
const LogFileName = "recorder.log"

// Status is a point-in-time view of the recorder process.
type Status struct {
	Enabled   bool       `json:"enabled"`
	Running   bool       `json:"running"`
	PID       int        `json:"pid,omitempty"`
	Restarts  int        `json:"restarts"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	LastExit  *ExitInfo  `json:"last_exit,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	NextStart *time.Time `json:"next_start,omitempty"`
	LogPath   string     `json:"log_path,omitempty"`
}

// ExitInfo describes the most recent exit of the recorder.
type ExitInfo struct {
	Code   int           `json:"code"`
	Uptime time.Duration `json:"uptime"`
	At     time.Time     `json:"at"`
}

// Supervisor runs the configured recorder command under supervise.Keep.
type Supervisor struct {
	enabled bool
	command supervise.Command
	policy  supervise.KeepPolicy
	logPath string
	logger  *slog.Logger

	notifier     notifications.Service
	notifyOnExit bool

	mu     sync.RWMutex
	status Status
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithSleep overrides how restart delays are waited out.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(s *Supervisor) { s.policy.Sleep = sleep }
}

// WithNotifier pushes an ntfy message whenever the recorder exits.
func WithNotifier(notifier notifications.Service) Option {
	return func(s *Supervisor) {
		if notifier != nil {
			s.notifier = notifier
		}
	}
}

// New constructs a supervisor from configuration. A disabled recorder yields
// a supervisor whose Run returns immediately.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Supervisor {
	rc := cfg.Recorder
	s := &Supervisor{
		enabled: rc.Enabled && len(rc.Command) > 0,
		policy: supervise.KeepPolicy{
			BaseDelay:   time.Duration(rc.RestartBackoffSeconds) * time.Second,
			MaxDelay:    time.Duration(rc.MaxBackoffSeconds) * time.Second,
			StableAfter: time.Duration(rc.StableAfterSeconds) * time.Second,
			Grace:       time.Duration(rc.StopGraceSeconds) * time.Second,
		},
		logPath: filepath.Join(cfg.App.LogDir, LogFileName),
		logger:  logging.NewComponentLogger(logger, "recorder"),

		notifier:     notifications.NewService(nil),
		notifyOnExit: cfg.Notifications.NotifyRecorder,
	}
	if s.enabled {
		s.command = supervise.Command{
			Path:  rc.Command[0],
			Args:  append([]string(nil), rc.Command[1:]...),
			Dir:   rc.Cwd,
			Grace: s.policy.Grace,
		}
	}
	s.status = Status{Enabled: s.enabled}
	if s.enabled {
		s.status.LogPath = s.logPath
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether a recorder is configured.
func (s *Supervisor) Enabled() bool {
	return s.enabled
}

// Run keeps the recorder running until ctx is canceled, then terminates it.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.enabled {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.logPath), 0o755); err != nil {
		return fmt.Errorf("create recorder log dir: %w", err)
	}
	out, err := os.OpenFile(s.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open recorder log: %w", err)
	}
	defer out.Close()

	cmd := s.command
	cmd.Stdout = out
	cmd.Stderr = out

	s.logger.Info("recorder supervisor started",
		logging.String("command", cmd.String()),
		logging.String("log_path", s.logPath),
		logging.String(logging.FieldEventType, "recorder_supervisor_start"),
	)
	err = supervise.Keep(ctx, cmd, s.policy, supervise.Hooks{
		OnStart: func(proc *supervise.Process) {
			s.onStart(out, proc)
		},
		OnExit:       s.onExit,
		OnStartError: s.onStartError,
		OnStop: func(proc *supervise.Process) {
			s.onStop(out, proc)
		},
	})
	s.mu.Lock()
	s.status.Running = false
	s.status.PID = 0
	s.status.NextStart = nil
	s.mu.Unlock()
	return err
}

// Status returns a copy of the current recorder status.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status := s.status
	if status.LastExit != nil {
		exit := *status.LastExit
		status.LastExit = &exit
	}
	return status
}

func (s *Supervisor) onStart(out io.Writer, proc *supervise.Process) {
	started := proc.StartedAt()
	fmt.Fprintf(out, "--- %s recorder started pid=%d ---\n", started.Format(time.RFC3339), proc.PID())

	s.mu.Lock()
	if s.status.StartedAt != nil || s.status.LastExit != nil || s.status.LastError != "" {
		s.status.Restarts++
	}
	s.status.Running = true
	s.status.PID = proc.PID()
	s.status.StartedAt = &started
	s.status.NextStart = nil
	restarts := s.status.Restarts
	s.mu.Unlock()

	s.logger.Info("recorder started",
		logging.Int("pid", proc.PID()),
		logging.Int("restarts", restarts),
		logging.String(logging.FieldEventType, "recorder_start"),
	)
}

func (s *Supervisor) onExit(exit supervise.Exit) {
	now := time.Now()
	next := now.Add(exit.NextDelay)

	s.mu.Lock()
	s.status.Running = false
	s.status.PID = 0
	s.status.LastExit = &ExitInfo{Code: exit.ExitCode, Uptime: exit.Uptime, At: now}
	if exit.Err != nil {
		s.status.LastError = exit.Err.Error()
	}
	s.status.NextStart = &next
	s.mu.Unlock()

	logging.WarnWithContext(s.logger, "recorder exited", "recorder_exit",
		logging.Int("pid", exit.PID),
		logging.Int("exit_code", exit.ExitCode),
		logging.Duration("uptime", exit.Uptime),
		logging.Duration("restart_in", exit.NextDelay),
		logging.String(logging.FieldImpact, "recording paused until the restart"),
		logging.String(logging.FieldErrorHint, "inspect "+s.logPath),
		logging.String(logging.FieldErrorDetailPath, s.logPath),
	)
	if s.notifyOnExit {
		go s.notifyExit(fmt.Sprintf("exited with code %d after %s", exit.ExitCode, exit.Uptime.Round(time.Second)))
	}
}

func (s *Supervisor) notifyExit(detail string) {
	if err := s.notifier.NotifyRecorderStopped(context.Background(), detail); err != nil {
		s.logger.Warn("recorder notification failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "notification_failed"),
		)
	}
}

func (s *Supervisor) onStartError(err error, nextDelay time.Duration) {
	next := time.Now().Add(nextDelay)
	s.mu.Lock()
	s.status.Running = false
	s.status.LastError = err.Error()
	s.status.NextStart = &next
	s.mu.Unlock()

	logging.ErrorWithContext(s.logger, "recorder failed to start", "recorder_start_failed",
		logging.Error(err),
		logging.Duration("retry_in", nextDelay),
		logging.String(logging.FieldErrorHint, "check recorder.command and recorder.cwd"),
	)
}

func (s *Supervisor) onStop(out io.Writer, proc *supervise.Process) {
	fmt.Fprintf(out, "--- %s recorder stopped pid=%d ---\n", time.Now().Format(time.RFC3339), proc.PID())
	s.logger.Info("recorder stopped",
		logging.Int("pid", proc.PID()),
		logging.String(logging.FieldEventType, "recorder_stop"),
	)
}
