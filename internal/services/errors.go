package services

import (
	"errors"
	"fmt"
	"strings"
)

// Failure markers. Every error that leaves a component carries exactly one of
// these so the orchestrator can decide whether it is file-scoped or fatal to
// the current cycle.
var (
	ErrVolumeUnavailable = errors.New("volume unavailable")
	ErrCopyVerification  = errors.New("copy verification failed")
	ErrPersistence       = errors.New("persistence error")
	ErrTranscribe        = errors.New("transcribe failed")
	ErrSummarize         = errors.New("summarize failed")
	ErrDeleteAtSource    = errors.New("delete at source failed")
	ErrNotFound          = errors.New("not found")
	ErrConfiguration     = errors.New("configuration error")
	ErrTimeout           = errors.New("timeout")
	ErrExternalTool      = errors.New("external tool error")
	ErrPrerequisite      = errors.New("prerequisite not met")
)

// Kind names, in classification order. Timeout sits ahead of the stage
// markers so a hung tool is reported as such.
var kinds = []struct {
	marker error
	name   string
}{
	{ErrPersistence, "persistence"},
	{ErrCopyVerification, "copy_verification"},
	{ErrDeleteAtSource, "delete_at_source"},
	{ErrVolumeUnavailable, "volume_unavailable"},
	{ErrTimeout, "timeout"},
	{ErrTranscribe, "transcribe"},
	{ErrSummarize, "summarize"},
	{ErrPrerequisite, "prerequisite"},
	{ErrNotFound, "not_found"},
	{ErrConfiguration, "configuration"},
	{ErrExternalTool, "external_tool"},
}

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind returns the stable name of the first marker err carries, or "unknown".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.marker) {
			return k.name
		}
	}
	return "unknown"
}

// IsCycleFatal reports whether err must abort the running cycle. Only shared
// infrastructure failures qualify; everything else is scoped to one file.
func IsCycleFatal(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// ErrorDetails is the flattened view of an error used by logs, the status
// snapshot, and failed ledger stage results.
type ErrorDetails struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	DetailPath string `json:"detail_path,omitempty"`
	Hint       string `json:"hint,omitempty"`
}

// Details extracts the classification and annotations carried by err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	return ErrorDetails{
		Kind:       Kind(err),
		Message:    err.Error(),
		DetailPath: DetailPath(err),
		Hint:       Hint(err),
	}
}

type annotatedError struct {
	err        error
	detailPath string
	hint       string
}

func (e *annotatedError) Error() string { return e.err.Error() }

func (e *annotatedError) Unwrap() error { return e.err }

// WithDetailPath attaches the location of retained diagnostic output.
func WithDetailPath(err error, path string) error {
	if err == nil || strings.TrimSpace(path) == "" {
		return err
	}
	return &annotatedError{err: err, detailPath: path, hint: Hint(err)}
}

// WithHint attaches an operator-facing next step.
func WithHint(err error, hint string) error {
	if err == nil || strings.TrimSpace(hint) == "" {
		return err
	}
	return &annotatedError{err: err, detailPath: DetailPath(err), hint: hint}
}

// DetailPath returns the diagnostic file attached to err, if any.
func DetailPath(err error) string {
	var annotated *annotatedError
	if errors.As(err, &annotated) {
		return annotated.detailPath
	}
	return ""
}

// Hint returns the operator hint attached to err, if any.
func Hint(err error) string {
	var annotated *annotatedError
	if errors.As(err, &annotated) {
		return annotated.hint
	}
	return ""
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
