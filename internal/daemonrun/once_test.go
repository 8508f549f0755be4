package daemonrun_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"voicelog/internal/daemon"
	"voicelog/internal/daemonrun"
	"voicelog/internal/testsupport"
)

func TestOnceIngestsAndTranscribes(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedWhisper(""))
	root := testsupport.VolumeRoot(cfg)
	mtime := time.Date(2025, 3, 1, 9, 0, 0, 0, time.Local)
	testsupport.WriteRecording(t, root, "REC/A.wav", []byte("audio-a"), mtime)

	summary, err := daemonrun.Once(context.Background(), cfg, daemonrun.Options{LogLevel: "error"})
	if err != nil {
		t.Fatalf("Once: %v", err)
	}
	if summary.VolumeAbsent || summary.Ingested != 1 || summary.Processed != 1 || summary.HasFailures() {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if _, err := os.Stat(filepath.Join(cfg.RawDir(), "20250301_090000_REC__A.wav")); err != nil {
		t.Fatalf("expected raw copy: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "REC", "A.wav")); !os.IsNotExist(err) {
		t.Fatalf("expected source deleted, stat err=%v", err)
	}
}

func TestOnceWithoutVolume(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedWhisper(""))

	summary, err := daemonrun.Once(context.Background(), cfg, daemonrun.Options{LogLevel: "error"})
	if err != nil {
		t.Fatalf("Once: %v", err)
	}
	if !summary.VolumeAbsent {
		t.Fatalf("expected volume absent, got %+v", summary)
	}
}

func TestOnceRefusesWhileDaemonHoldsLock(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedWhisper(""))
	if err := os.MkdirAll(cfg.App.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir log dir: %v", err)
	}
	lock := flock.New(cfg.LockPath())
	if ok, err := lock.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock: ok=%v err=%v", ok, err)
	}
	t.Cleanup(func() { _ = lock.Unlock() })

	_, err := daemonrun.Once(context.Background(), cfg, daemonrun.Options{LogLevel: "error"})
	if !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}
