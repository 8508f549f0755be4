package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (c *Config) normalize(configDir string) error {
	if err := c.normalizeApp(); err != nil {
		return err
	}
	if err := c.normalizeVolume(); err != nil {
		return err
	}
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	if err := c.normalizeWhisper(); err != nil {
		return err
	}
	if err := c.normalizeSummarizer(configDir); err != nil {
		return err
	}
	if err := c.normalizeRecorder(); err != nil {
		return err
	}
	c.normalizeNotifications()
	return nil
}

func (c *Config) normalizeApp() error {
	var err error
	if strings.TrimSpace(c.App.LogDir) == "" {
		c.App.LogDir = defaultLogDir
	}
	if c.App.LogDir, err = expandPath(c.App.LogDir); err != nil {
		return fmt.Errorf("app.log_dir: %w", err)
	}
	c.App.LogFormat = strings.ToLower(strings.TrimSpace(c.App.LogFormat))
	switch c.App.LogFormat {
	case "", "console":
		c.App.LogFormat = "console"
	case "json":
	default:
		c.App.LogFormat = "console"
	}
	c.App.LogLevel = strings.ToLower(strings.TrimSpace(c.App.LogLevel))
	if c.App.LogLevel == "" {
		c.App.LogLevel = defaultLogLevel
	}
	if c.App.LogRetentionDays < 0 {
		c.App.LogRetentionDays = 0
	}
	c.App.APIBind = strings.TrimSpace(c.App.APIBind)
	c.App.APIToken = strings.TrimSpace(c.App.APIToken)
	if c.App.APIToken == "" {
		if value, ok := os.LookupEnv("VOICELOG_API_TOKEN"); ok {
			c.App.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeVolume() error {
	c.Volume.DeviceName = strings.TrimSpace(c.Volume.DeviceName)
	c.Volume.SourceSubdir = strings.Trim(strings.TrimSpace(c.Volume.SourceSubdir), "/")

	roots := make([]string, 0, len(c.Volume.MountRoots))
	for _, root := range c.Volume.MountRoots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		expanded, err := expandPath(root)
		if err != nil {
			return fmt.Errorf("volume.mount_roots: %w", err)
		}
		roots = append(roots, expanded)
	}
	if len(roots) == 0 {
		roots = DefaultMountRoots()
	}
	c.Volume.MountRoots = dedupe(roots)

	exts := make([]string, 0, len(c.Volume.AudioExtensions))
	for _, ext := range c.Volume.AudioExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	if len(exts) == 0 {
		exts = append(exts, defaultAudioExtensions...)
	}
	c.Volume.AudioExtensions = dedupe(exts)
	c.Volume.IncludePatterns = trimAll(c.Volume.IncludePatterns)
	c.Volume.ExcludePatterns = trimAll(c.Volume.ExcludePatterns)
	return nil
}

func (c *Config) normalizeStorage() error {
	var err error
	if c.Storage.BaseDir, err = expandPath(strings.TrimSpace(c.Storage.BaseDir)); err != nil {
		return fmt.Errorf("storage.base_dir: %w", err)
	}
	defaults := Default().Storage
	for _, field := range []struct {
		value    *string
		fallback string
	}{
		{&c.Storage.RawDirName, defaults.RawDirName},
		{&c.Storage.TranscriptDirName, defaults.TranscriptDirName},
		{&c.Storage.SummaryDirName, defaults.SummaryDirName},
		{&c.Storage.StagingDirName, defaults.StagingDirName},
		{&c.Storage.DiagnosticsDirName, defaults.DiagnosticsDirName},
		{&c.Storage.LedgerFileName, defaults.LedgerFileName},
	} {
		*field.value = strings.TrimSpace(*field.value)
		if *field.value == "" {
			*field.value = field.fallback
		}
	}
	return nil
}

func (c *Config) normalizeWhisper() error {
	var err error
	if c.Whisper.CLIPath, err = expandPath(strings.TrimSpace(c.Whisper.CLIPath)); err != nil {
		return fmt.Errorf("whisper.cli_path: %w", err)
	}
	if c.Whisper.ModelPath, err = expandPath(strings.TrimSpace(c.Whisper.ModelPath)); err != nil {
		return fmt.Errorf("whisper.model_path: %w", err)
	}
	c.Whisper.Language = strings.TrimSpace(c.Whisper.Language)
	if c.Whisper.Language == "" {
		c.Whisper.Language = defaultWhisperLanguage
	}
	if c.Whisper.TimeoutSeconds <= 0 {
		c.Whisper.TimeoutSeconds = defaultWhisperTimeoutSeconds
	}
	return nil
}

func (c *Config) normalizeSummarizer(configDir string) error {
	s := &c.Summarizer
	s.Provider = strings.ToLower(strings.TrimSpace(s.Provider))
	s.Model = strings.TrimSpace(s.Model)
	s.Endpoint = strings.TrimSpace(s.Endpoint)
	s.APIKeyEnv = strings.TrimSpace(s.APIKeyEnv)
	s.APIKey = strings.TrimSpace(s.APIKey)
	if strings.TrimSpace(s.SystemPrompt) == "" {
		s.SystemPrompt = defaultSystemPrompt
	}
	if s.Endpoint == "" {
		s.Endpoint = defaultEndpoint(s.Provider)
	}
	if s.Provider == ProviderCloudflare || isCloudflareCompat(s.Endpoint) {
		s.Endpoint = normalizeCloudflareEndpoint(s.Endpoint)
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = defaultSummarizerMaxTokens
	}
	if s.TimeoutSeconds <= 0 {
		s.TimeoutSeconds = defaultSummarizerTimeout
	}
	if s.RetryAttempts <= 0 {
		s.RetryAttempts = 1
	}
	if s.RequestsPerMinute < 0 {
		s.RequestsPerMinute = 0
	}

	if s.EnvFile != "" {
		envFile := s.EnvFile
		if !filepath.IsAbs(envFile) && !strings.HasPrefix(envFile, "~") && configDir != "" {
			envFile = filepath.Join(configDir, envFile)
		}
		var err error
		if s.EnvFile, err = expandPath(envFile); err != nil {
			return fmt.Errorf("summarizer.env_file: %w", err)
		}
	}
	if s.APIKey == "" {
		key, err := resolveAPIKey(s.APIKeyEnv, s.EnvFile)
		if err != nil {
			return err
		}
		s.APIKey = key
	}
	return nil
}

// resolveAPIKey reads the key from the process environment, then the optional
// dotenv file. A value that is not a valid variable name is taken as the key.
func resolveAPIKey(name, envFile string) (string, error) {
	if name == "" {
		return "", nil
	}
	if value, ok := os.LookupEnv(name); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value), nil
	}
	if envFile != "" {
		values, err := godotenv.Read(envFile)
		if err != nil {
			return "", fmt.Errorf("summarizer.env_file: read %s: %w", envFile, err)
		}
		if value := strings.TrimSpace(values[name]); value != "" {
			return value, nil
		}
	}
	if !envNamePattern.MatchString(name) {
		return name, nil
	}
	return "", nil
}

func isCloudflareCompat(endpoint string) bool {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	return parsed.Host == "gateway.ai.cloudflare.com" && strings.Contains(parsed.Path, "/compat")
}

func normalizeCloudflareEndpoint(endpoint string) string {
	trimmed := strings.TrimRight(endpoint, "/")
	if strings.HasSuffix(trimmed, "/compat") {
		return trimmed + "/chat/completions"
	}
	return trimmed
}

func (c *Config) normalizeRecorder() error {
	c.Recorder.Command = trimAll(c.Recorder.Command)
	if c.Recorder.Cwd != "" {
		var err error
		if c.Recorder.Cwd, err = expandPath(strings.TrimSpace(c.Recorder.Cwd)); err != nil {
			return fmt.Errorf("recorder.cwd: %w", err)
		}
	}
	if c.Recorder.RestartBackoffSeconds <= 0 {
		c.Recorder.RestartBackoffSeconds = defaultRecorderBackoff
	}
	if c.Recorder.MaxBackoffSeconds < c.Recorder.RestartBackoffSeconds {
		c.Recorder.MaxBackoffSeconds = max(defaultRecorderMaxBackoff, c.Recorder.RestartBackoffSeconds)
	}
	if c.Recorder.StableAfterSeconds <= 0 {
		c.Recorder.StableAfterSeconds = defaultRecorderStableAfter
	}
	if c.Recorder.StopGraceSeconds <= 0 {
		c.Recorder.StopGraceSeconds = defaultRecorderStopGrace
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeoutSeconds
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
