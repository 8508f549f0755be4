package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"voicelog/internal/config"
	"voicelog/internal/daemon"
	"voicelog/internal/ipc"
	"voicelog/internal/logging"
	"voicelog/internal/recorder"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	Diagnostic  bool
	// SocketPath overrides the configured IPC socket.
	SocketPath string
}

// Run starts the voicelog daemon and blocks until SIGINT/SIGTERM or an IPC
// stop request.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	// Staging cleanup, the pid file and the log pointer all belong to the
	// lock holder.
	lock, err := acquireInstanceLock(cfg, "use 'voicelog status' to inspect the running daemon")
	if err != nil {
		return err
	}
	defer lock.Unlock()

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.App.LogDir, fmt.Sprintf("voicelog-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.App.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.App.LogFormat,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
		RunID:       runID,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	var debugLogPath string
	if opts.Diagnostic {
		debugDir := filepath.Join(cfg.App.LogDir, "debug")
		debugLogPath = filepath.Join(debugDir, fmt.Sprintf("voicelog-%s.log", runID))
		debugLogger, debugErr := logging.New(logging.Options{
			Level:       "debug",
			Format:      "json",
			OutputPaths: []string{debugLogPath},
			Development: true,
			RunID:       runID,
		})
		if debugErr != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to initialize debug logger: %v\n", debugErr)
		} else {
			logger = logging.TeeLogger(logger, debugLogger.Handler())
			if err := ensureCurrentLogPointer(debugDir, debugLogPath); err != nil {
				fmt.Fprintf(os.Stderr, "warn: unable to update debug/voicelog.log link: %v\n", err)
			}
		}
		logger.Info("diagnostic mode enabled",
			logging.String(logging.FieldEventType, "diagnostic_mode_enabled"),
			logging.String(logging.FieldCorrelationID, uuid.NewString()),
			logging.String("debug_log_path", debugLogPath),
		)
	}

	if err := ensureCurrentLogPointer(cfg.App.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update voicelog.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.App.LogRetentionDays,
		logging.RetentionTarget{Dir: cfg.App.LogDir, Pattern: "voicelog-*.log", Exclude: []string{logPath}, KeepNewest: 3},
		logging.RetentionTarget{Dir: filepath.Join(cfg.App.LogDir, "debug"), Pattern: "voicelog-*.log", Exclude: []string{debugLogPath}},
		logging.RetentionTarget{Dir: cfg.DiagnosticsDir(), Pattern: "**/*.log"},
	)
	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	rt, err := Build(signalCtx, cfg, logger, cfg.PollInterval())
	if err != nil {
		logger.Error("daemon setup failed", logging.Error(err))
		return err
	}
	defer rt.Close()
	logDependencySnapshot(signalCtx, logger, cfg)

	d, err := daemon.New(cfg, rt.Store, rt.Manager, recorder.New(cfg, logger, recorder.WithNotifier(rt.Notifier)), logger, logPath,
		daemon.WithInstanceLock(lock))
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	socketPath := opts.SocketPath
	if socketPath == "" {
		socketPath = cfg.SocketPath()
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Run(signalCtx); err != nil {
		logger.Error("daemon stopped with error", logging.Error(err))
		return err
	}
	logger.Info("voicelog daemon shut down", logging.String(logging.FieldEventType, "daemon_exit"))
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "voicelog.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
