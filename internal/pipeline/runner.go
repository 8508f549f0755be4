package pipeline

import (
	"context"
	"log/slog"
	"time"

	"voicelog/internal/ledger"
	"voicelog/internal/logging"
	"voicelog/internal/services"
	"voicelog/internal/stage"
)

// Ledger is the subset of the ledger store the runner writes to.
type Ledger interface {
	UpdateStage(ctx context.Context, identity, stage string, result ledger.StageResult) error
}

// Observer receives stage transitions as they happen.
type Observer interface {
	StageStarted(stage string, entry *ledger.Entry)
	StageFinished(stage string, entry *ledger.Entry, result ledger.StageResult)
}

type nopObserver struct{}

func (nopObserver) StageStarted(string, *ledger.Entry)                      {}
func (nopObserver) StageFinished(string, *ledger.Entry, ledger.StageResult) {}

// Outcome summarizes one Process call.
type Outcome struct {
	Identity string
	// Ran lists the stages executed by this call, in order.
	Ran []string
	// FailedStage names the stage that failed during this call, if any.
	FailedStage string
	Err         error
	State       State
}

// Runner executes stages in order for one recording at a time.
type Runner struct {
	store  Ledger
	stages []stage.Handler
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes a Runner.
type Option func(*Runner)

// WithClock overrides the time source used for attempt timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner constructs a runner over the given stages, which must be listed
// in execution order.
func NewRunner(store Ledger, stages []stage.Handler, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		store:  store,
		stages: stages,
		logger: logging.NewComponentLogger(logger, "pipeline"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stages returns the stage names in execution order.
func (r *Runner) Stages() []string {
	names := make([]string, 0, len(r.stages))
	for _, h := range r.stages {
		names = append(names, h.Name())
	}
	return names
}

// Handlers exposes the configured stage handlers.
func (r *Runner) Handlers() []stage.Handler {
	return append([]stage.Handler(nil), r.stages...)
}

// Process runs every stage of entry that has not yet succeeded. Stage
// failures are recorded and reported in the Outcome; the returned error is
// reserved for ledger failures and cancellation, both of which end the cycle.
func (r *Runner) Process(ctx context.Context, entry *ledger.Entry, obs Observer) (Outcome, error) {
	if obs == nil {
		obs = nopObserver{}
	}
	if entry.Stages == nil {
		entry.Stages = make(map[string]ledger.StageResult)
	}
	outcome := Outcome{Identity: entry.SourceIdentity}
	ctx = services.WithSourceIdentity(ctx, entry.SourceIdentity)

	for _, h := range r.stages {
		name := h.Name()
		current := entry.Stage(name)
		if current.State == ledger.StateSucceeded {
			continue
		}
		if current.State == ledger.StateFailed {
			break
		}
		if prereq := h.Prerequisite(); prereq != "" && entry.Stage(prereq).State != ledger.StateSucceeded {
			break
		}
		if err := ctx.Err(); err != nil {
			outcome.State = StateOf(entry)
			return outcome, err
		}

		stageCtx := services.WithStage(ctx, name)
		logger := logging.WithContext(stageCtx, r.logger)
		logger.Info("stage started",
			logging.String(logging.FieldEventType, "stage_start"),
			logging.String("local_path", entry.LocalPath),
		)
		obs.StageStarted(name, entry)

		started := r.now()
		output, runErr := h.Run(stageCtx, entry)
		if runErr != nil && ctx.Err() != nil {
			// Interrupted by shutdown; the stage stays NotRun.
			outcome.State = StateOf(entry)
			return outcome, ctx.Err()
		}

		result := r.resultFor(output, runErr)
		if err := r.store.UpdateStage(context.WithoutCancel(stageCtx), entry.SourceIdentity, name, result); err != nil {
			outcome.State = StateOf(entry)
			return outcome, err
		}
		entry.Stages[name] = result
		outcome.Ran = append(outcome.Ran, name)
		obs.StageFinished(name, entry, result)

		if runErr != nil {
			outcome.FailedStage = name
			outcome.Err = runErr
			attrs := append([]logging.Attr{
				logging.String(logging.FieldEventType, "stage_failure"),
				logging.String(logging.FieldImpact, "recording keeps its local copy; later stages skipped"),
				logging.Duration("elapsed", r.now().Sub(started)),
			}, logging.ErrorAttrs(runErr)...)
			if !logging.HasAttrKey(attrs, logging.FieldErrorHint) {
				attrs = append(attrs, logging.String(logging.FieldErrorHint, "run `voicelog ledger retry "+entry.SourceIdentity+"` after fixing the cause"))
			}
			logging.WarnWithContext(logger, "stage failed", "stage_failure", attrs...)
			break
		}
		logger.Info("stage completed",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.String("output_path", output),
			logging.Duration("elapsed", r.now().Sub(started)),
		)
	}

	outcome.State = StateOf(entry)
	return outcome, nil
}

func (r *Runner) resultFor(output string, err error) ledger.StageResult {
	at := r.now().UTC()
	if err == nil {
		return ledger.Succeeded(output, at)
	}
	details := services.Details(err)
	kind := details.Kind
	if kind == "unknown" {
		kind = "external_tool"
	}
	return ledger.Failed(kind, details.Message, details.DetailPath, at)
}
