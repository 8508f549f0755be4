package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// App contains daemon timing, logging, and control-surface settings.
type App struct {
	PollIntervalSeconds int    `toml:"poll_interval"`
	LogLevel            string `toml:"log_level"`
	LogFormat           string `toml:"log_format"`
	LogDir              string `toml:"log_dir"`
	LogRetentionDays    int    `toml:"log_retention_days"`
	APIBind             string `toml:"api_bind"`
	APIToken            string `toml:"api_token"`
}

// Volume describes the removable volume that carries recordings.
type Volume struct {
	DeviceName        string   `toml:"device_name"`
	MountRoots        []string `toml:"mount_roots"`
	SourceSubdir      string   `toml:"source_subdir"`
	AudioExtensions   []string `toml:"audio_extensions"`
	IncludePatterns   []string `toml:"include_patterns"`
	ExcludePatterns   []string `toml:"exclude_patterns"`
	RequireMountPoint bool     `toml:"require_mount_point"`
}

// Storage describes the local library layout.
type Storage struct {
	BaseDir            string `toml:"base_dir"`
	RawDirName         string `toml:"raw_dir_name"`
	TranscriptDirName  string `toml:"transcript_dir_name"`
	SummaryDirName     string `toml:"summary_dir_name"`
	StagingDirName     string `toml:"staging_dir_name"`
	DiagnosticsDirName string `toml:"diagnostics_dir_name"`
	LedgerFileName     string `toml:"ledger_file_name"`
	VerifyDigest       bool   `toml:"verify_digest"`
}

// Whisper configures the whisper.cpp command line transcriber.
type Whisper struct {
	CLIPath        string   `toml:"cli_path"`
	ModelPath      string   `toml:"model_path"`
	Language       string   `toml:"language"`
	ExtraArgs      []string `toml:"extra_args"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Summarizer configures the optional LLM summary stage.
type Summarizer struct {
	Enabled           bool   `toml:"enabled"`
	Provider          string `toml:"provider"`
	Endpoint          string `toml:"endpoint"`
	Model             string `toml:"model"`
	APIKey            string `toml:"api_key"`
	APIKeyEnv         string `toml:"api_key_env"`
	EnvFile           string `toml:"env_file"`
	SystemPrompt      string `toml:"system_prompt"`
	MaxTokens         int    `toml:"max_tokens"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	RetryAttempts     int    `toml:"retry_attempts"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// Recorder configures the optional always-on recording subprocess.
type Recorder struct {
	Enabled               bool     `toml:"enabled"`
	Command               []string `toml:"command"`
	Cwd                   string   `toml:"cwd"`
	RestartBackoffSeconds int      `toml:"restart_backoff_seconds"`
	MaxBackoffSeconds     int      `toml:"max_backoff_seconds"`
	StableAfterSeconds    int      `toml:"stable_after_seconds"`
	StopGraceSeconds      int      `toml:"stop_grace_seconds"`
}

// Notifications configures ntfy push messages.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	NotifyOnSuccess       bool   `toml:"notify_on_success"`
	NotifyRecorder        bool   `toml:"notify_recorder"`
}

// Config encapsulates all configuration values for voicelog.
//
// Configuration sections by subsystem:
//   - App: poll interval, logging, and the HTTP control surface
//   - Volume: which removable volume to watch and which files to ingest
//   - Storage: local library layout and the ledger database
//   - Whisper: whisper.cpp transcription
//   - Summarizer: LLM provider used for summaries
//   - Recorder: supervised recording subprocess
//   - Notifications: ntfy push messages
type Config struct {
	App           App           `toml:"app"`
	Volume        Volume        `toml:"volume"`
	Storage       Storage       `toml:"storage"`
	Whisper       Whisper       `toml:"whisper"`
	Summarizer    Summarizer    `toml:"summarizer"`
	Recorder      Recorder      `toml:"recorder"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(filepath.Dir(resolvedPath)); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("voicelog.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the local library layout and log directory.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.App.LogDir,
		c.Storage.BaseDir,
		c.RawDir(),
		c.TranscriptDir(),
		c.SummaryDir(),
		c.StagingDir(),
		c.DiagnosticsDir(),
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// PollInterval returns the watcher poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.App.PollIntervalSeconds) * time.Second
}

// RawDir returns the directory holding ingested audio.
func (c *Config) RawDir() string {
	return filepath.Join(c.Storage.BaseDir, c.Storage.RawDirName)
}

// TranscriptDir returns the directory holding transcripts.
func (c *Config) TranscriptDir() string {
	return filepath.Join(c.Storage.BaseDir, c.Storage.TranscriptDirName)
}

// SummaryDir returns the directory holding summaries.
func (c *Config) SummaryDir() string {
	return filepath.Join(c.Storage.BaseDir, c.Storage.SummaryDirName)
}

// StagingDir returns the directory used for in-flight copies. It lives under
// BaseDir so the final rename never crosses filesystems.
func (c *Config) StagingDir() string {
	return filepath.Join(c.Storage.BaseDir, c.Storage.StagingDirName)
}

// DiagnosticsDir returns the directory holding retained tool output.
func (c *Config) DiagnosticsDir() string {
	return filepath.Join(c.Storage.BaseDir, c.Storage.DiagnosticsDirName)
}

// LedgerPath returns the ledger database location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Storage.BaseDir, c.Storage.LedgerFileName)
}

// SocketPath returns the daemon IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.App.LogDir, "voicelog.sock")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.App.LogDir, "voicelog.lock")
}

// PIDPath returns the file the daemon writes its process id to.
func (c *Config) PIDPath() string {
	return filepath.Join(c.App.LogDir, "voicelog.pid")
}

// WhisperTimeout returns the per-file transcription timeout.
func (c *Config) WhisperTimeout() time.Duration {
	return time.Duration(c.Whisper.TimeoutSeconds) * time.Second
}

// SummarizerTimeout returns the per-request summarization timeout.
func (c *Config) SummarizerTimeout() time.Duration {
	return time.Duration(c.Summarizer.TimeoutSeconds) * time.Second
}

// EnabledStages returns the pipeline stage names in execution order.
func (c *Config) EnabledStages() []string {
	if c.Summarizer.Enabled {
		return []string{StageTranscribe, StageSummarize}
	}
	return []string{StageTranscribe}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML. The resolved API key is
// redacted.
func (c *Config) Encode() ([]byte, error) {
	clone := *c
	if clone.Summarizer.APIKey != "" {
		clone.Summarizer.APIKey = "<redacted>"
	}
	if clone.App.APIToken != "" {
		clone.App.APIToken = "<redacted>"
	}
	return toml.Marshal(clone)
}
