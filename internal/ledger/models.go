package ledger

import (
	"errors"
	"time"

	"voicelog/internal/config"
)

// ErrDuplicate is returned when recording an identity that already exists.
var ErrDuplicate = errors.New("ledger entry already exists")

// StageState is the persisted outcome of one pipeline stage.
type StageState string

const (
	StateNotRun    StageState = "not_run"
	StateSucceeded StageState = "succeeded"
	StateFailed    StageState = "failed"
)

// StageResult records the latest outcome of a stage for one entry.
type StageResult struct {
	State       StageState `json:"state" yaml:"state"`
	OutputPath  string     `json:"output_path,omitempty" yaml:"output_path,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Message     string     `json:"message,omitempty" yaml:"message,omitempty"`
	DetailPath  string     `json:"detail_path,omitempty" yaml:"detail_path,omitempty"`
	AttemptedAt time.Time  `json:"attempted_at,omitzero" yaml:"attempted_at,omitempty"`
}

// Succeeded builds a successful stage result.
func Succeeded(outputPath string, at time.Time) StageResult {
	return StageResult{State: StateSucceeded, OutputPath: outputPath, AttemptedAt: at}
}

// Failed builds a failed stage result.
func Failed(kind, message, detailPath string, at time.Time) StageResult {
	return StageResult{State: StateFailed, ErrorKind: kind, Message: message, DetailPath: detailPath, AttemptedAt: at}
}

// Entry is the ledger record of one ingested source file.
type Entry struct {
	SourceIdentity  string                 `json:"source_identity" yaml:"source_identity"`
	SourceRelPath   string                 `json:"source_rel_path" yaml:"source_rel_path"`
	SourceSize      int64                  `json:"source_size" yaml:"source_size"`
	SourceModTime   time.Time              `json:"source_mtime" yaml:"source_mtime"`
	ContentSHA256   string                 `json:"content_sha256,omitempty" yaml:"content_sha256,omitempty"`
	LocalPath       string                 `json:"local_path" yaml:"local_path"`
	IngestedAt      time.Time              `json:"ingested_at" yaml:"ingested_at"`
	SourceDeletedAt *time.Time             `json:"source_deleted_at,omitempty" yaml:"source_deleted_at,omitempty"`
	Stages          map[string]StageResult `json:"stages,omitempty" yaml:"stages,omitempty"`
}

// Stage returns the result for name, NotRun when nothing was recorded.
func (e *Entry) Stage(name string) StageResult {
	if e == nil || e.Stages == nil {
		return StageResult{State: StateNotRun}
	}
	result, ok := e.Stages[name]
	if !ok || result.State == "" {
		return StageResult{State: StateNotRun}
	}
	return result
}

// SourceDeleted reports whether the source copy has been removed.
func (e *Entry) SourceDeleted() bool {
	return e != nil && e.SourceDeletedAt != nil
}

// NextStage returns the first stage in order that still needs to run. It
// reports false once every stage succeeded or a stage failed, since a failed
// stage is terminal until an operator resets it.
func (e *Entry) NextStage(stages []string) (string, bool) {
	for _, stage := range stages {
		switch e.Stage(stage).State {
		case StateSucceeded:
			continue
		case StateFailed:
			return "", false
		default:
			if prereq := Prerequisite(stage); prereq != "" && e.Stage(prereq).State != StateSucceeded {
				return "", false
			}
			return stage, true
		}
	}
	return "", false
}

// HasFailure reports whether any stage of the entry failed.
func (e *Entry) HasFailure() bool {
	if e == nil {
		return false
	}
	for _, result := range e.Stages {
		if result.State == StateFailed {
			return true
		}
	}
	return false
}

var prerequisites = map[string]string{
	config.StageSummarize: config.StageTranscribe,
}

// Prerequisite returns the stage that must succeed before stage may succeed.
func Prerequisite(stage string) string {
	return prerequisites[stage]
}

// dependents returns the stages that require stage, transitively.
func dependents(stage string) []string {
	var out []string
	for child, parent := range prerequisites {
		if parent == stage {
			out = append(out, child)
			out = append(out, dependents(child)...)
		}
	}
	return out
}

// Filter narrows List results.
type Filter struct {
	// FailedOnly keeps entries with at least one failed stage.
	FailedOnly bool
	// AwaitingDelete keeps entries whose source copy still exists.
	AwaitingDelete bool
	// Limit caps the number of entries when positive.
	Limit int
}

// Stats summarizes the ledger contents.
type Stats struct {
	Entries        int            `json:"entries" yaml:"entries"`
	AwaitingDelete int            `json:"awaiting_delete" yaml:"awaiting_delete"`
	Succeeded      map[string]int `json:"succeeded" yaml:"succeeded"`
	Failed         map[string]int `json:"failed" yaml:"failed"`
}
