package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"

	"voicelog/internal/config"
	"voicelog/internal/daemon"
	"voicelog/internal/logging"
	"voicelog/internal/workflow"
)

// Once runs a single cycle in the foreground. It takes the same instance lock
// as the daemon so the two never share a ledger.
func Once(cmdCtx context.Context, cfg *config.Config, opts Options) (workflow.Summary, error) {
	if cfg == nil {
		return workflow.Summary{}, fmt.Errorf("config is required")
	}
	ctx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := opts.LogLevel
	if level == "" {
		level = cfg.App.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.App.LogFormat,
		OutputPaths: []string{"stderr"},
		Development: opts.Development,
	})
	if err != nil {
		return workflow.Summary{}, fmt.Errorf("init logger: %w", err)
	}

	lock, err := acquireInstanceLock(cfg, "use 'voicelog run' to trigger a cycle in the running daemon")
	if err != nil {
		return workflow.Summary{}, err
	}
	defer lock.Unlock()

	rt, err := Build(ctx, cfg, logger, 0)
	if err != nil {
		return workflow.Summary{}, err
	}
	defer rt.Close()

	return rt.Manager.RunCycle(ctx, workflow.TriggerOnce)
}

// acquireInstanceLock takes the lock shared by the daemon and the one-shot
// run. Nothing touching the library may happen before it is held.
func acquireInstanceLock(cfg *config.Config, hint string) (*flock.Flock, error) {
	if err := os.MkdirAll(cfg.App.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, errors.Join(daemon.ErrAlreadyRunning, errors.New(hint))
	}
	return lock, nil
}
