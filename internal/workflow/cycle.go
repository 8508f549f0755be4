package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"voicelog/internal/config"
	"voicelog/internal/ledger"
	"voicelog/internal/logging"
	"voicelog/internal/notifications"
	"voicelog/internal/services"
	"voicelog/internal/status"
	"voicelog/internal/volume"
)

type deleteRetry struct {
	entry *ledger.Entry
	ref   volume.FileRef
}

// runCycle executes one cycle. The caller holds the cycle slot.
func (m *Manager) runCycle(ctx context.Context, trigger string) (summary Summary, err error) {
	id := uuid.NewString()
	ctx = services.WithCycleID(ctx, id)
	logger := logging.WithContext(ctx, m.logger)
	summary = Summary{CycleID: id, Trigger: trigger, StartedAt: time.Now()}
	m.reporter.BeginCycle(id, trigger)

	defer func() {
		summary.Duration = time.Since(summary.StartedAt)
		m.recordResult(summary, err)
		m.notify(ctx, logger, summary, err)
	}()

	state, pollErr := m.watcher.Poll(ctx)
	if pollErr != nil || !state.Present {
		summary.VolumeAbsent = true
		message := m.absentMessage(state, pollErr)
		if pollErr != nil {
			logging.WarnWithContext(logger, "volume unavailable", "volume_unavailable",
				logging.Error(pollErr),
				logging.String(logging.FieldImpact, "no recordings ingested this cycle"),
				logging.String(logging.FieldErrorHint, "retried on the next poll"),
			)
		} else {
			logger.Debug("cycle skipped", logging.String("reason", message))
		}
		m.reporter.VolumeAbsent(message)
		return summary, nil
	}

	summary.Scanned = len(state.Candidates)
	logger.Info("cycle started",
		logging.String("trigger", trigger),
		logging.String("mount", state.Mount),
		logging.Int("candidates", summary.Scanned),
		logging.String(logging.FieldEventType, "cycle_start"),
	)

	err = m.ingest(ctx, state.Candidates, &summary)
	if err == nil {
		err = m.process(ctx, logger, &summary)
	}

	switch {
	case err == nil:
	case ctx.Err() != nil:
		summary.Interrupted = true
		m.reporter.Complete("cycle interrupted")
		logger.Info("cycle interrupted",
			logging.String("reason", "shutdown"),
			logging.String(logging.FieldEventType, "cycle_interrupted"),
		)
		return summary, nil
	default:
		m.reporter.Abort(err)
		attrs := append([]logging.Attr{
			logging.String(logging.FieldImpact, "cycle aborted; already recorded work is kept"),
		}, logging.ErrorAttrs(err)...)
		logging.ErrorWithContext(logger, "cycle aborted", "cycle_aborted", attrs...)
		return summary, err
	}

	message := fmt.Sprintf("ingested %d, processed %d, failed %d", summary.Ingested, summary.Processed, summary.Failed)
	m.reporter.Complete(message)
	logger.Info("cycle complete",
		logging.Int("scanned", summary.Scanned),
		logging.Int("ingested", summary.Ingested),
		logging.Int("skipped", summary.Skipped),
		logging.Int("delete_retried", summary.DeleteRetried),
		logging.Int("processed", summary.Processed),
		logging.Int("failed", summary.Failed),
		logging.Duration("elapsed", time.Since(summary.StartedAt)),
		logging.String(logging.FieldEventType, "cycle_complete"),
	)
	return summary, nil
}

// ingest retries pending source deletions and migrates unseen candidates.
func (m *Manager) ingest(ctx context.Context, candidates []volume.FileRef, summary *Summary) error {
	var (
		fresh   []volume.FileRef
		deletes []deleteRetry
	)
	for _, ref := range candidates {
		entry, err := m.store.Get(ctx, ref.Identity)
		switch {
		case errors.Is(err, services.ErrNotFound):
			fresh = append(fresh, ref)
		case err != nil:
			return services.Wrap(services.ErrPersistence, "workflow", "dedup", "ledger lookup failed", err)
		case !entry.SourceDeleted():
			deletes = append(deletes, deleteRetry{entry: entry, ref: ref})
		default:
			// Deleted once already; an identical file reappeared.
			summary.Skipped++
		}
	}

	m.reporter.BeginCopying(len(fresh) + len(deletes))

	for _, d := range deletes {
		if err := m.checkpoint(ctx); err != nil {
			return err
		}
		m.reporter.CopyStarted(d.ref.RelPath)
		fileCtx := services.WithSourceIdentity(ctx, d.ref.Identity)
		err := m.migrator.RetryDelete(fileCtx, d.entry, d.ref)
		m.reporter.FileCopied()
		if err != nil {
			summary.Failed++
			m.reporter.FileFailed(d.ref.RelPath, err)
			continue
		}
		summary.DeleteRetried++
	}

	for _, ref := range fresh {
		if err := m.checkpoint(ctx); err != nil {
			return err
		}
		m.reporter.CopyStarted(ref.RelPath)
		fileCtx := services.WithSourceIdentity(ctx, ref.Identity)
		outcome, err := m.migrator.Migrate(fileCtx, ref)
		m.reporter.FileCopied()
		if outcome.AlreadyIngested {
			summary.Skipped++
		}
		if outcome.Recorded {
			summary.Ingested++
		}
		if err == nil {
			continue
		}
		if services.IsCycleFatal(err) {
			return err
		}
		summary.Failed++
		m.reporter.FileFailed(ref.RelPath, err)
	}
	return nil
}

// process runs outstanding stages for every pending ledger entry.
func (m *Manager) process(ctx context.Context, logger *slog.Logger, summary *Summary) error {
	stages := m.runner.Stages()
	pending, err := m.store.Pending(ctx, stages)
	if err != nil {
		return err
	}
	remaining := make([]int, len(pending))
	total := 0
	for i, entry := range pending {
		remaining[i] = remainingStages(entry, stages)
		total += remaining[i]
	}
	m.reporter.BeginPipeline(len(pending), total)
	if len(pending) > 0 {
		logger.Info("processing pending recordings",
			logging.Int("recordings", len(pending)),
			logging.Int("stage_runs", total),
			logging.String(logging.FieldEventType, "pipeline_start"),
		)
	}

	obs := &reporterObserver{reporter: m.reporter}
	for i, entry := range pending {
		if err := m.checkpoint(ctx); err != nil {
			return err
		}
		obs.file = entry.SourceRelPath
		obs.finished = 0
		outcome, err := m.runner.Process(ctx, entry, obs)
		if err != nil {
			return err
		}
		// Stages skipped after a failure still count toward progress.
		for range remaining[i] - obs.finished {
			m.reporter.StageFinished()
		}
		if outcome.Err != nil {
			summary.Failed++
			m.reporter.FileFailed(entry.SourceRelPath, outcome.Err)
			continue
		}
		if len(outcome.Ran) > 0 {
			summary.Processed++
		}
	}
	return nil
}

// checkpoint is evaluated between files. Only shutdown stops a started
// cycle; pause takes effect when the next cycle would begin.
func (m *Manager) checkpoint(ctx context.Context) error {
	return ctx.Err()
}

func (m *Manager) absentMessage(state volume.State, err error) string {
	switch {
	case err != nil:
		return err.Error()
	case state.Settling:
		return fmt.Sprintf("%s detected; waiting for it to settle", m.cfg.Volume.DeviceName)
	default:
		return fmt.Sprintf("%s not mounted", m.cfg.Volume.DeviceName)
	}
}

func remainingStages(entry *ledger.Entry, stages []string) int {
	n := 0
	for _, name := range stages {
		if entry.Stage(name).State != ledger.StateSucceeded {
			n++
		}
	}
	return n
}

// reporterObserver maps pipeline stage transitions onto status phases.
type reporterObserver struct {
	reporter *status.Reporter
	file     string
	finished int
}

func (o *reporterObserver) StageStarted(stage string, _ *ledger.Entry) {
	o.reporter.StageStarted(phaseFor(stage), o.file)
}

func (o *reporterObserver) StageFinished(string, *ledger.Entry, ledger.StageResult) {
	o.finished++
	o.reporter.StageFinished()
}

func phaseFor(stage string) status.Phase {
	if stage == config.StageSummarize {
		return status.PhaseSummarizing
	}
	return status.PhaseTranscribing
}

// notify announces cycles that moved or failed something, and aborted cycles.
func (m *Manager) notify(ctx context.Context, logger *slog.Logger, summary Summary, cycleErr error) {
	ctx = context.WithoutCancel(ctx)
	var err error
	switch {
	case cycleErr != nil:
		err = m.notifier.NotifyCycleAborted(ctx, cycleErr)
	case summary.VolumeAbsent:
		return
	case summary.Ingested > 0 || summary.Processed > 0 || summary.Failed > 0:
		err = m.notifier.NotifyCycleCompleted(ctx, notifications.CycleReport{
			Trigger:   summary.Trigger,
			Ingested:  summary.Ingested,
			Processed: summary.Processed,
			Failed:    summary.Failed,
			Duration:  summary.Duration,
		})
	default:
		return
	}
	if err != nil {
		logging.WarnWithContext(logger, "cycle notification failed", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "cycle result not pushed to ntfy"),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}
