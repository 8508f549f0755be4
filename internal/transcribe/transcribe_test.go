package transcribe_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"voicelog/internal/ledger"
	"voicelog/internal/services"
	"voicelog/internal/testsupport"
	"voicelog/internal/transcribe"
)

func localEntry(t *testing.T, dir, name string) *ledger.Entry {
	t.Helper()
	path := filepath.Join(dir, name)
	testsupport.WriteFile(t, path, 128)
	return &ledger.Entry{SourceIdentity: name + "|128|1", LocalPath: path}
}

func TestRunWritesTranscript(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedWhisper(""))
	s := transcribe.New(cfg, nil)
	entry := localEntry(t, cfg.RawDir(), "20250101_000000_A.wav")

	out, err := s.Run(context.Background(), entry)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != filepath.Join(cfg.TranscriptDir(), "20250101_000000_A.txt") {
		t.Fatalf("unexpected transcript path %q", out)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if strings.TrimSpace(string(data)) != "transcript of 20250101_000000_A.wav" {
		t.Fatalf("unexpected transcript %q", data)
	}
	leftovers, _ := filepath.Glob(filepath.Join(cfg.StagingDir(), "transcribe-*"))
	if len(leftovers) != 0 {
		t.Fatalf("work files left behind: %v", leftovers)
	}
}

func TestRunFailureRetainsDiagnostics(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedWhisper("BROKEN"))
	s := transcribe.New(cfg, nil)
	entry := localEntry(t, cfg.RawDir(), "20250101_000000_BROKEN.wav")

	_, err := s.Run(context.Background(), entry)
	if !errors.Is(err, services.ErrTranscribe) {
		t.Fatalf("expected transcribe error, got %v", err)
	}
	detail := services.DetailPath(err)
	if detail != filepath.Join(cfg.DiagnosticsDir(), "20250101_000000_BROKEN.transcribe.log") {
		t.Fatalf("unexpected detail path %q", detail)
	}
	data, readErr := os.ReadFile(detail)
	if readErr != nil {
		t.Fatalf("read diagnostics: %v", readErr)
	}
	if !strings.Contains(string(data), "stub failure") || !strings.Contains(string(data), "exit_code: 3") {
		t.Fatalf("diagnostics missing tool output: %q", data)
	}
	if _, err := os.Stat(entry.LocalPath); err != nil {
		t.Fatalf("raw audio must survive a failed transcription: %v", err)
	}
}

func TestRunEmptyTranscriptFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteExecutable(t, cfg.Whisper.CLIPath, `#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in -of) base="$2"; shift 2 ;; *) shift ;; esac
done
printf '  \n\n' > "$base.txt"
`)
	s := transcribe.New(cfg, nil)
	entry := localEntry(t, cfg.RawDir(), "silence.wav")

	if _, err := s.Run(context.Background(), entry); !errors.Is(err, services.ErrTranscribe) {
		t.Fatalf("expected transcribe error for blank output, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.TranscriptDir(), "silence.txt")); !os.IsNotExist(err) {
		t.Fatal("no transcript may be stored for blank output")
	}
}

func TestRunTimeout(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Whisper.TimeoutSeconds = 1
	testsupport.WriteExecutable(t, cfg.Whisper.CLIPath, "#!/bin/sh\nexec sleep 30\n")
	s := transcribe.New(cfg, nil)
	entry := localEntry(t, cfg.RawDir(), "hang.wav")

	_, err := s.Run(context.Background(), entry)
	if !errors.Is(err, services.ErrTimeout) || !errors.Is(err, services.ErrTranscribe) {
		t.Fatalf("expected transcribe timeout, got %v", err)
	}
	if services.Kind(err) != "timeout" {
		t.Fatalf("expected timeout kind, got %q", services.Kind(err))
	}
}

func TestCommandArguments(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Whisper.ExtraArgs = []string{"-t", "4"}
	cmd := transcribe.New(cfg, nil).Command("/a.wav", "/work/out")
	want := []string{"-m", cfg.Whisper.ModelPath, "-f", "/a.wav", "-of", "/work/out", "-otxt", "-l", "ja", "-t", "4"}
	if strings.Join(cmd.Args, " ") != strings.Join(want, " ") {
		t.Fatalf("unexpected args %v", cmd.Args)
	}
}

func TestHealthCheck(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := transcribe.New(cfg, nil)
	if health := s.HealthCheck(context.Background()); health.Ready {
		t.Fatal("expected unhealthy without binaries")
	}
	cfg = testsupport.NewConfig(t, testsupport.WithStubbedWhisper(""))
	if health := transcribe.New(cfg, nil).HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("expected healthy, got %+v", health)
	}
}
