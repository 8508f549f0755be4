package recorder_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"voicelog/internal/recorder"
	"voicelog/internal/testsupport"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestDisabledRecorderReturnsImmediately(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	sup := recorder.New(cfg, nil)
	if err := sup.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status := sup.Status(); status.Enabled || status.Running {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestRecorderRestartsAfterExit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	script := filepath.Join(testsupport.BaseDir(cfg), "bin", "recorder")
	testsupport.WriteExecutable(t, script, "#!/bin/sh\necho recording in $(pwd)\nexit 4\n")
	cfg = testsupport.NewConfig(t, testsupport.WithRecorder(script))

	var sleeps atomic.Int32
	sup := recorder.New(cfg, nil, recorder.WithSleep(func(ctx context.Context, d time.Duration) error {
		sleeps.Add(1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
			return nil
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	waitFor(t, 5*time.Second, func() bool { return sup.Status().Restarts >= 2 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	status := sup.Status()
	if status.LastExit == nil || status.LastExit.Code != 4 {
		t.Fatalf("unexpected last exit %+v", status.LastExit)
	}
	if status.Running {
		t.Fatal("recorder must not be running after shutdown")
	}
	data, err := os.ReadFile(filepath.Join(cfg.App.LogDir, recorder.LogFileName))
	if err != nil {
		t.Fatalf("read recorder log: %v", err)
	}
	if !strings.Contains(string(data), "recording in "+cfg.Recorder.Cwd) {
		t.Fatalf("recorder output not captured: %q", data)
	}
}

func TestRecorderTerminatedOnShutdown(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	script := filepath.Join(testsupport.BaseDir(cfg), "bin", "recorder")
	testsupport.WriteExecutable(t, script, "#!/bin/sh\nexec sleep 60\n")
	cfg = testsupport.NewConfig(t, testsupport.WithRecorder(script))
	cfg.Recorder.StopGraceSeconds = 2
	sup := recorder.New(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	waitFor(t, 5*time.Second, func() bool { return sup.Status().Running })
	pid := sup.Status().PID
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	if err := unix.Kill(pid, 0); err == nil {
		t.Fatalf("recorder pid %d still alive", pid)
	}
}
