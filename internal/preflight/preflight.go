package preflight

import (
	"context"

	"voicelog/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Optional bool   `json:"optional,omitempty"`
	Detail   string `json:"detail"`
}

// RunAll executes every check that applies to cfg. Disabled features are
// skipped.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Library directory", cfg.Storage.BaseDir),
		CheckDirectoryAccess("Raw directory", cfg.RawDir()),
		CheckDirectoryAccess("Transcript directory", cfg.TranscriptDir()),
		CheckDirectoryAccess("Staging directory", cfg.StagingDir()),
		CheckDirectoryAccess("Log directory", cfg.App.LogDir),
	}
	if cfg.Summarizer.Enabled {
		results = append(results, CheckDirectoryAccess("Summary directory", cfg.SummaryDir()))
	}

	results = append(results, CheckFile("Whisper model", cfg.Whisper.ModelPath))
	for _, status := range CheckSystemDeps(cfg) {
		result := Result{Name: status.Name, Passed: status.Available, Optional: status.Optional, Detail: status.Detail}
		if status.Available {
			result.Detail = status.Command
		}
		results = append(results, result)
	}

	results = append(results, CheckMountRoots(cfg.Volume.MountRoots))

	if cfg.Summarizer.Enabled {
		results = append(results, CheckEndpoint(ctx, "Summarizer endpoint", cfg.Summarizer.Provider, cfg.Summarizer.Endpoint))
	}
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed && !result.Optional {
			failed = append(failed, result)
		}
	}
	return failed
}
