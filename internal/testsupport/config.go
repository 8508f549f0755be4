package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"voicelog/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The watched volume lives under <base>/mnt/<DeviceName>.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.App.PollIntervalSeconds = 1
	cfgVal.App.LogDir = filepath.Join(base, "logs")
	cfgVal.App.APIBind = "127.0.0.1:0"
	cfgVal.Volume.DeviceName = "VOICE_REC"
	cfgVal.Volume.MountRoots = []string{filepath.Join(base, "mnt")}
	cfgVal.Storage.BaseDir = filepath.Join(base, "library")
	cfgVal.Whisper.CLIPath = filepath.Join(base, "bin", "whisper-cli")
	cfgVal.Whisper.ModelPath = filepath.Join(base, "models", "ggml-test.bin")
	cfgVal.Whisper.TimeoutSeconds = 30

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithSummarizer enables the summary stage against endpoint.
func WithSummarizer(provider, endpoint string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Summarizer.Enabled = true
		b.cfg.Summarizer.Provider = provider
		b.cfg.Summarizer.Endpoint = endpoint
		b.cfg.Summarizer.Model = "test-model"
		b.cfg.Summarizer.APIKey = "test-key"
		b.cfg.Summarizer.RetryAttempts = 1
		b.cfg.Summarizer.RequestsPerMinute = 0
		b.cfg.Summarizer.TimeoutSeconds = 5
	}
}

// WithRecorder enables the recorder with the given command line.
func WithRecorder(command ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Recorder.Enabled = true
		b.cfg.Recorder.Command = command
		b.cfg.Recorder.Cwd = filepath.Join(b.baseDir, "recorder")
		if err := os.MkdirAll(b.cfg.Recorder.Cwd, 0o755); err != nil {
			b.t.Fatalf("mkdir recorder cwd: %v", err)
		}
	}
}

// WithStubbedWhisper writes a whisper-cli stand-in that writes a transcript
// for every input. The script receives the same arguments as whisper-cli and
// writes "transcript of <audio>" to "<-of>.txt". A non-empty failWhen makes it
// exit 3 for audio paths containing that substring.
func WithStubbedWhisper(failWhen string) ConfigOption {
	return func(b *configBuilder) {
		script := `#!/bin/sh
audio=""
base=""
while [ $# -gt 0 ]; do
  case "$1" in
    -f) audio="$2"; shift 2 ;;
    -of) base="$2"; shift 2 ;;
    *) shift ;;
  esac
done
echo "whisper stub processing $audio"
`
		if failWhen != "" {
			script += `case "$audio" in *` + failWhen + `*) echo "stub failure" >&2; exit 3 ;; esac
`
		}
		script += `printf 'transcript of %s\n' "$(basename "$audio")" > "$base.txt"
`
		WriteExecutable(b.t, b.cfg.Whisper.CLIPath, script)
		if err := os.MkdirAll(filepath.Dir(b.cfg.Whisper.ModelPath), 0o755); err != nil {
			b.t.Fatalf("mkdir model dir: %v", err)
		}
		if err := os.WriteFile(b.cfg.Whisper.ModelPath, []byte("model"), 0o644); err != nil {
			b.t.Fatalf("write model: %v", err)
		}
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		for _, name := range names {
			WriteExecutable(b.t, filepath.Join(binDir, name), "#!/bin/sh\nexit 0\n")
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// WriteExecutable writes an executable shell script to path.
func WriteExecutable(t testing.TB, path, script string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write executable %s: %v", path, err)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.App.LogDir)
}

// VolumeRoot returns the directory that stands in for the mounted volume.
// It is not created; tests create it to simulate insertion.
func VolumeRoot(cfg *config.Config) string {
	return filepath.Join(cfg.Volume.MountRoots[0], cfg.Volume.DeviceName)
}
