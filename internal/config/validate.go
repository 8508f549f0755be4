package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

func init() {
	// Report field errors using the TOML key names.
	validation.ErrorTag = "toml"
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Volume.Validate(); err != nil {
		return fmt.Errorf("volume: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Whisper.Validate(); err != nil {
		return fmt.Errorf("whisper: %w", err)
	}
	if err := c.Summarizer.Validate(); err != nil {
		return fmt.Errorf("summarizer: %w", err)
	}
	if err := c.Recorder.Validate(); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	if err := c.Notifications.Validate(); err != nil {
		return fmt.Errorf("notifications: %w", err)
	}
	return nil
}

// Validate validates the app section.
func (a *App) Validate() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.PollIntervalSeconds, validation.Required, validation.Min(1)),
		validation.Field(&a.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&a.LogFormat, validation.In("console", "json")),
		validation.Field(&a.LogDir, validation.Required),
	)
}

// Validate validates the volume section.
func (v *Volume) Validate() error {
	if err := validation.ValidateStruct(v,
		validation.Field(&v.DeviceName, validation.Required),
		validation.Field(&v.MountRoots, validation.Required),
		validation.Field(&v.AudioExtensions, validation.Required),
	); err != nil {
		return err
	}
	for _, pattern := range append(append([]string{}, v.IncludePatterns...), v.ExcludePatterns...) {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid glob pattern %q", pattern)
		}
	}
	if strings.Contains(v.SourceSubdir, "..") {
		return errors.New("source_subdir must not escape the volume root")
	}
	return nil
}

// Validate validates the storage section.
func (s *Storage) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.BaseDir, validation.Required),
		validation.Field(&s.RawDirName, validation.Required, validation.By(plainName)),
		validation.Field(&s.TranscriptDirName, validation.Required, validation.By(plainName)),
		validation.Field(&s.SummaryDirName, validation.Required, validation.By(plainName)),
		validation.Field(&s.StagingDirName, validation.Required, validation.By(plainName)),
		validation.Field(&s.DiagnosticsDirName, validation.Required, validation.By(plainName)),
		validation.Field(&s.LedgerFileName, validation.Required, validation.By(plainName)),
	)
}

// Validate validates the whisper section.
func (w *Whisper) Validate() error {
	return validation.ValidateStruct(w,
		validation.Field(&w.CLIPath, validation.Required),
		validation.Field(&w.ModelPath, validation.Required),
		validation.Field(&w.TimeoutSeconds, validation.Min(1)),
	)
}

// Validate validates the summarizer section. Nothing is required while the
// stage is disabled.
func (s *Summarizer) Validate() error {
	if !s.Enabled {
		return nil
	}
	if err := validation.ValidateStruct(s,
		validation.Field(&s.Provider, validation.Required, validation.In(
			ProviderOpenAI, ProviderOpenRouter, ProviderCloudflare, ProviderAnthropic, ProviderGemini,
		)),
		validation.Field(&s.Model, validation.Required),
		validation.Field(&s.Endpoint, validation.When(
			s.Provider != ProviderGemini, validation.Required,
		)),
	); err != nil {
		return err
	}
	if s.APIKey == "" {
		if s.APIKeyEnv == "" {
			return errors.New("api_key or api_key_env must be set when the summarizer is enabled")
		}
		return fmt.Errorf("api key not found in environment variable %s", s.APIKeyEnv)
	}
	return nil
}

// Validate validates the recorder section.
func (r *Recorder) Validate() error {
	if !r.Enabled {
		return nil
	}
	return validation.ValidateStruct(r,
		validation.Field(&r.Command, validation.Required),
	)
}

// Validate validates the notifications section.
func (n *Notifications) Validate() error {
	return validation.ValidateStruct(n,
		validation.Field(&n.NtfyTopic, is.URL),
	)
}

func plainName(value any) error {
	name, _ := value.(string)
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return errors.New("must be a plain name without separators")
	}
	return nil
}
