package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestStatusRendersSections(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"== Daemon ==", "== Cycle ==", "== Recorder ==", "== Stages ==", "== Ledger ==", "Disabled"} {
		requireContains(t, out, want)
	}
}

func TestStatusJSON(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var payload struct {
		LedgerPath string `json:"ledger_path"`
		Stages     []struct {
			Name string `json:"name"`
		} `json:"stages"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if payload.LedgerPath != env.cfg.LedgerPath() {
		t.Fatalf("unexpected ledger path %q", payload.LedgerPath)
	}
	if len(payload.Stages) != 1 || payload.Stages[0].Name != "transcribe" {
		t.Fatalf("unexpected stages: %+v", payload.Stages)
	}
}

func TestStatusWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	missing := filepath.Join(t.TempDir(), "missing.sock")

	out, _, err := runCLI(t, []string{"status"}, missing, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Not running")

	out, _, err = runCLI(t, []string{"stop"}, missing, env.configPath)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Daemon is not running")

	if _, _, err := runCLI(t, []string{"pause"}, missing, env.configPath); err == nil {
		t.Fatal("expected pause to fail without a daemon")
	}
}

func TestPauseResumeAndRun(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"pause"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	requireContains(t, out, "Scheduling paused")
	if !env.daemon.Status(t.Context()).Paused {
		t.Fatal("expected daemon paused")
	}

	out, _, err = runCLI(t, []string{"resume"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	requireContains(t, out, "Scheduling resumed")
	if env.daemon.Status(t.Context()).Paused {
		t.Fatal("expected daemon resumed")
	}

	// The workflow loop is not running here, so the request is dropped.
	out, _, err = runCLI(t, []string{"run"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	requireContains(t, out, "request dropped")
}

func TestLogsPrintsTrailingLines(t *testing.T) {
	env := setupCLITestEnv(t)
	logPath := filepath.Join(env.cfg.App.LogDir, "voicelog.log")
	if err := os.WriteFile(logPath, []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "-n", "2"}, "", env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "two\nthree\n" {
		t.Fatalf("unexpected output %q", out)
	}
}
