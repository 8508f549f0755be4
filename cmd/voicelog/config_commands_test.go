package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigInitShowAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, "", env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "Stages: transcribe")
	requireContains(t, out, "whisper-cli:")

	out, _, err = runCLI(t, []string{"config", "show"}, "", env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "device_name")
	requireContains(t, out, "VOICE_REC")

	target := filepath.Join(t.TempDir(), "voicelog", "config.toml")
	out, _, err = runCLI(t, []string{"config", "init"}, "", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	_, _, err = runCLI(t, []string{"config", "init"}, "", target)
	if err == nil || !strings.Contains(err.Error(), "--force") {
		t.Fatalf("expected overwrite refusal, got %v", err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--force"}, "", target); err != nil {
		t.Fatalf("config init --force: %v", err)
	}
}

func TestConfigValidateReportsFailedChecks(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := os.Remove(env.cfg.Whisper.ModelPath); err != nil {
		t.Fatalf("remove model: %v", err)
	}

	out, _, err := runCLI(t, []string{"config", "validate"}, "", env.configPath)
	if err == nil || !strings.Contains(err.Error(), "preflight") {
		t.Fatalf("expected preflight failure, got %v", err)
	}
	requireContains(t, out, "[ERROR]")
}
