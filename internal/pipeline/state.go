package pipeline

import (
	"voicelog/internal/config"
	"voicelog/internal/ledger"
)

// State is the lifecycle position of one ingested recording.
type State string

const (
	StateIngested         State = "ingested"
	StateTranscribing     State = "transcribing"
	StateTranscribed      State = "transcribed"
	StateTranscribeFailed State = "transcribe_failed"
	StateSummarizing      State = "summarizing"
	StateSummarized       State = "summarized"
	StateSummarizeFailed  State = "summarize_failed"
)

// StateOf derives the persisted state of entry. The in-flight states
// Transcribing and Summarizing are only ever reported through an Observer.
func StateOf(entry *ledger.Entry) State {
	switch entry.Stage(config.StageTranscribe).State {
	case ledger.StateFailed:
		return StateTranscribeFailed
	case ledger.StateNotRun:
		return StateIngested
	}
	switch entry.Stage(config.StageSummarize).State {
	case ledger.StateSucceeded:
		return StateSummarized
	case ledger.StateFailed:
		return StateSummarizeFailed
	}
	return StateTranscribed
}

// Terminal reports whether no further stage will run for a recording in
// state s without operator action.
func (s State) Terminal(summarizeEnabled bool) bool {
	switch s {
	case StateSummarized, StateTranscribeFailed, StateSummarizeFailed:
		return true
	case StateTranscribed:
		return !summarizeEnabled
	default:
		return false
	}
}

// Failed reports whether s is a terminal failure.
func (s State) Failed() bool {
	return s == StateTranscribeFailed || s == StateSummarizeFailed
}

// Running returns the in-flight state for a stage name.
func Running(stageName string) State {
	switch stageName {
	case config.StageTranscribe:
		return StateTranscribing
	case config.StageSummarize:
		return StateSummarizing
	default:
		return State(stageName)
	}
}
