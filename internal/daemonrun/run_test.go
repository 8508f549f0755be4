package daemonrun_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"

	"voicelog/internal/daemon"
	"voicelog/internal/daemonrun"
	"voicelog/internal/testsupport"
)

func TestRunLeavesRunningDaemonUntouched(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedWhisper(""))
	if err := os.MkdirAll(cfg.App.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir log dir: %v", err)
	}
	lock := flock.New(cfg.LockPath())
	if ok, err := lock.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock: ok=%v err=%v", ok, err)
	}
	t.Cleanup(func() { _ = lock.Unlock() })

	// State owned by the daemon that holds the lock.
	inflight := filepath.Join(cfg.StagingDir(), "inflight.part")
	transcript := filepath.Join(cfg.StagingDir(), "transcribe-live.txt")
	pidPath := cfg.PIDPath()
	for path, content := range map[string]string{
		inflight:   "partial copy",
		transcript: "partial transcript",
		pidPath:    "4242\n",
	} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}

	err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: "error"})
	if !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	for _, path := range []string{inflight, transcript} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to survive: %v", filepath.Base(path), err)
		}
	}
	data, err := os.ReadFile(pidPath)
	if err != nil || string(data) != "4242\n" {
		t.Fatalf("expected pid file untouched, got %q err=%v", data, err)
	}
	if _, err := os.Lstat(filepath.Join(cfg.App.LogDir, "voicelog.log")); !os.IsNotExist(err) {
		t.Fatalf("expected no log pointer from the refused start, err=%v", err)
	}
}
