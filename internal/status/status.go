package status

import (
	"sync"
	"sync/atomic"
	"time"

	"voicelog/internal/services"
)

// Phase is the coarse activity of the current cycle.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseVolumeAbsent Phase = "volume_absent"
	PhaseCopying      Phase = "copying"
	PhaseTranscribing Phase = "transcribing"
	PhaseSummarizing  Phase = "summarizing"
	PhaseComplete     Phase = "complete"
	PhaseError        Phase = "error"
)

// Failure describes one file-scoped failure seen during a cycle.
type Failure struct {
	File       string    `json:"file"`
	Phase      Phase     `json:"phase"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	DetailPath string    `json:"detail_path,omitempty"`
	Hint       string    `json:"hint,omitempty"`
	At         time.Time `json:"at"`
}

// CycleResult summarizes a finished cycle.
type CycleResult struct {
	CycleID    string    `json:"cycle_id"`
	Trigger    string    `json:"trigger"`
	Phase      Phase     `json:"phase"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Copied     int       `json:"copied"`
	Stages     int       `json:"stages"`
	Failures   int       `json:"failures"`
}

// CycleState is an immutable snapshot of orchestrator progress.
type CycleState struct {
	Phase       Phase                  `json:"phase"`
	Progress    int                    `json:"progress_percent"`
	Paused      bool                   `json:"paused"`
	Running     bool                   `json:"running"`
	CycleID     string                 `json:"cycle_id,omitempty"`
	Trigger     string                 `json:"trigger,omitempty"`
	CurrentFile string                 `json:"current_file,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Failures    []Failure              `json:"failures,omitempty"`
	LastError   *services.ErrorDetails `json:"last_error,omitempty"`
	StartedAt   time.Time              `json:"started_at,omitzero"`
	UpdatedAt   time.Time              `json:"updated_at"`
	LastCycle   *CycleResult           `json:"last_cycle,omitempty"`
	CopyTotal   int                    `json:"copy_total"`
	CopyDone    int                    `json:"copy_done"`
	StagesTotal int                    `json:"stages_total"`
	StagesDone  int                    `json:"stages_done"`
}

// Reporter tracks the progress of the running cycle. Mutating methods are
// called by the orchestrator; Snapshot may be called from any goroutine.
type Reporter struct {
	mu  sync.Mutex
	now func() time.Time

	phase       Phase
	paused      bool
	running     bool
	cycleID     string
	trigger     string
	currentFile string
	message     string
	failures    []Failure
	lastError   *services.ErrorDetails
	startedAt   time.Time
	lastCycle   *CycleResult
	copyTotal   int
	copyDone    int
	stagesTotal int
	stagesDone  int
	// resume is the phase restored after a transient per-file error.
	resume Phase

	snapshot atomic.Pointer[CycleState]
}

// Option customizes a Reporter.
type Option func(*Reporter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		if now != nil {
			r.now = now
		}
	}
}

// NewReporter returns a reporter in the Idle phase.
func NewReporter(opts ...Option) *Reporter {
	r := &Reporter{now: time.Now, phase: PhaseIdle}
	for _, opt := range opts {
		opt(r)
	}
	r.publish()
	return r
}

// Snapshot returns the last published state without blocking writers.
func (r *Reporter) Snapshot() CycleState {
	return *r.snapshot.Load()
}

// SetPaused records the externally controlled pause flag.
func (r *Reporter) SetPaused(paused bool) {
	r.update(func() { r.paused = paused })
}

// BeginCycle resets per-cycle state.
func (r *Reporter) BeginCycle(id, trigger string) {
	r.update(func() {
		r.phase = PhaseIdle
		r.resume = ""
		r.running = true
		r.cycleID = id
		r.trigger = trigger
		r.currentFile = ""
		r.message = "scanning volume"
		r.failures = nil
		r.lastError = nil
		r.startedAt = r.now()
		r.copyTotal, r.copyDone = 0, 0
		r.stagesTotal, r.stagesDone = 0, 0
	})
}

// VolumeAbsent ends the cycle early because no volume is present.
func (r *Reporter) VolumeAbsent(message string) {
	r.update(func() {
		r.phase = PhaseVolumeAbsent
		r.message = message
		r.currentFile = ""
		r.finish()
	})
}

// BeginCopying enters the Copying phase for total candidates.
func (r *Reporter) BeginCopying(total int) {
	r.update(func() {
		r.setPhase(PhaseCopying)
		r.copyTotal, r.copyDone = total, 0
		r.message = ""
	})
}

// CopyStarted names the file being migrated.
func (r *Reporter) CopyStarted(file string) {
	r.update(func() {
		r.setPhase(PhaseCopying)
		r.currentFile = file
	})
}

// FileCopied advances copy progress by one candidate, whether or not the
// copy succeeded.
func (r *Reporter) FileCopied() {
	r.update(func() {
		if r.copyDone < r.copyTotal {
			r.copyDone++
		}
	})
}

// BeginPipeline starts stage progress for files recordings needing stages
// stage runs in total.
func (r *Reporter) BeginPipeline(files, stages int) {
	r.update(func() {
		r.stagesTotal, r.stagesDone = stages, 0
		r.currentFile = ""
		r.message = ""
		if files == 0 {
			r.message = "no pending recordings"
		}
	})
}

// StageStarted enters phase for file.
func (r *Reporter) StageStarted(phase Phase, file string) {
	r.update(func() {
		r.setPhase(phase)
		r.currentFile = file
	})
}

// StageFinished advances stage progress by one run.
func (r *Reporter) StageFinished() {
	r.update(func() {
		if r.stagesDone < r.stagesTotal {
			r.stagesDone++
		}
	})
}

// FileFailed records a file-scoped failure. The phase reads Error until the
// next file or stage starts.
func (r *Reporter) FileFailed(file string, err error) {
	details := services.Details(err)
	r.update(func() {
		if r.phase != PhaseError {
			r.resume = r.phase
		}
		r.failures = append(r.failures, Failure{
			File:       file,
			Phase:      r.resume,
			Kind:       details.Kind,
			Message:    details.Message,
			DetailPath: details.DetailPath,
			Hint:       details.Hint,
			At:         r.now(),
		})
		r.lastError = &details
		r.phase = PhaseError
		r.message = details.Message
	})
}

// Complete marks the cycle finished.
func (r *Reporter) Complete(message string) {
	r.update(func() {
		r.phase = PhaseComplete
		r.resume = ""
		r.currentFile = ""
		r.message = message
		r.finish()
	})
}

// Abort marks the cycle as ended by a cycle-fatal error.
func (r *Reporter) Abort(err error) {
	details := services.Details(err)
	r.update(func() {
		r.phase = PhaseError
		r.resume = ""
		r.lastError = &details
		r.message = details.Message
		r.finish()
	})
}

func (r *Reporter) setPhase(phase Phase) {
	r.phase = phase
	r.resume = ""
}

func (r *Reporter) finish() {
	r.running = false
	r.lastCycle = &CycleResult{
		CycleID:    r.cycleID,
		Trigger:    r.trigger,
		Phase:      r.phase,
		StartedAt:  r.startedAt,
		FinishedAt: r.now(),
		Copied:     r.copyDone,
		Stages:     r.stagesDone,
		Failures:   len(r.failures),
	}
}

func (r *Reporter) update(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
	r.publish()
}

// publish stores a fresh snapshot; callers hold r.mu.
func (r *Reporter) publish() {
	state := &CycleState{
		Phase:       r.phase,
		Progress:    r.progress(),
		Paused:      r.paused,
		Running:     r.running,
		CycleID:     r.cycleID,
		Trigger:     r.trigger,
		CurrentFile: r.currentFile,
		Message:     r.message,
		Failures:    append([]Failure(nil), r.failures...),
		StartedAt:   r.startedAt,
		UpdatedAt:   r.now(),
		CopyTotal:   r.copyTotal,
		CopyDone:    r.copyDone,
		StagesTotal: r.stagesTotal,
		StagesDone:  r.stagesDone,
	}
	if r.lastError != nil {
		details := *r.lastError
		state.LastError = &details
	}
	if r.lastCycle != nil {
		last := *r.lastCycle
		state.LastCycle = &last
	}
	r.snapshot.Store(state)
}

// progress derives the percentage from the counters of the active phase.
func (r *Reporter) progress() int {
	phase := r.phase
	if phase == PhaseError && r.resume != "" {
		phase = r.resume
	}
	switch phase {
	case PhaseComplete:
		return 100
	case PhaseCopying:
		return percent(r.copyDone, r.copyTotal)
	case PhaseTranscribing, PhaseSummarizing:
		return percent(r.stagesDone, r.stagesTotal)
	default:
		return 0
	}
}

func percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	p := done * 100 / total
	return min(max(p, 0), 100)
}
