package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"voicelog/internal/config"
	"voicelog/internal/ledger"
)

func TestLedgerListFormats(t *testing.T) {
	env := setupCLITestEnv(t)
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	ok := recordEntry(t, env.store, "REC/A.wav", map[string]ledger.StageResult{
		config.StageTranscribe: ledger.Succeeded("/library/transcripts/a.txt", at),
	})
	bad := recordEntry(t, env.store, "REC/B.wav", map[string]ledger.StageResult{
		config.StageTranscribe: ledger.Failed("transcribe", "whisper exited 3", "", at),
	})

	out, _, err := runCLI(t, []string{"ledger", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("ledger list: %v", err)
	}
	requireContains(t, out, ok.SourceIdentity)
	requireContains(t, out, "failed (transcribe)")

	out, _, err = runCLI(t, []string{"ledger", "list", "--failed", "--format", "json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("ledger list json: %v", err)
	}
	var entries []ledger.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode entries: %v\n%s", err, out)
	}
	if len(entries) != 1 || entries[0].SourceIdentity != bad.SourceIdentity {
		t.Fatalf("unexpected failed entries: %+v", entries)
	}

	out, _, err = runCLI(t, []string{"ledger", "list", "--format", "yaml"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("ledger list yaml: %v", err)
	}
	var decoded []map[string]any
	if err := yaml.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("decode yaml: %v\n%s", err, out)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 yaml entries, got %d", len(decoded))
	}

	if _, _, err := runCLI(t, []string{"ledger", "list", "--format", "csv"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestLedgerShowAndRetry(t *testing.T) {
	env := setupCLITestEnv(t)
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	entry := recordEntry(t, env.store, "REC/B.wav", map[string]ledger.StageResult{
		config.StageTranscribe: ledger.Failed("transcribe", "whisper exited 3", "", at),
	})

	out, _, err := runCLI(t, []string{"ledger", "show", entry.SourceIdentity}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("ledger show: %v", err)
	}
	requireContains(t, out, "whisper exited 3")

	out, _, err = runCLI(t, []string{"ledger", "retry", entry.SourceIdentity}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("ledger retry: %v", err)
	}
	requireContains(t, out, "Reset transcribe")

	got, err := env.store.Get(t.Context(), entry.SourceIdentity)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if state := got.Stages[config.StageTranscribe].State; state == ledger.StateFailed {
		t.Fatalf("expected transcribe reset, still %q", state)
	}

	if _, _, err := runCLI(t, []string{"ledger", "show", "missing|1|1"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected not found error")
	}
}

func TestLedgerExport(t *testing.T) {
	env := setupCLITestEnv(t)
	entry := recordEntry(t, env.store, "REC/A.wav", nil)
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "ledger.json")
	if _, _, err := runCLI(t, []string{"ledger", "export", jsonPath}, "", env.configPath); err != nil {
		t.Fatalf("export json: %v", err)
	}
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var snapshot ledger.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if len(snapshot.Entries) != 1 || snapshot.Entries[0].SourceIdentity != entry.SourceIdentity {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}

	yamlPath := filepath.Join(dir, "ledger.yaml")
	if _, _, err := runCLI(t, []string{"ledger", "export", yamlPath}, "", env.configPath); err != nil {
		t.Fatalf("export yaml: %v", err)
	}
	data, err = os.ReadFile(yamlPath)
	if err != nil {
		t.Fatalf("read yaml export: %v", err)
	}
	if !strings.Contains(string(data), "source_identity: "+entry.SourceIdentity) {
		t.Fatalf("yaml export missing entry:\n%s", data)
	}

	if _, _, err := runCLI(t, []string{"ledger", "export", filepath.Join(dir, "ledger.csv")}, "", env.configPath); err == nil {
		t.Fatal("expected unsupported extension error")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		512:             "512 B",
		2048:            "2.0 KiB",
		5 * 1024 * 1024: "5.0 MiB",
	}
	for size, want := range tests {
		if got := formatBytes(size); got != want {
			t.Fatalf("formatBytes(%d) = %q, want %q", size, got, want)
		}
	}
}
