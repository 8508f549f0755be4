package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voicelog/internal/config"
	"voicelog/internal/ingest"
	"voicelog/internal/ledger"
	"voicelog/internal/logging"
	"voicelog/internal/notifications"
	"voicelog/internal/pipeline"
	"voicelog/internal/preflight"
	"voicelog/internal/stage"
	"voicelog/internal/summarize"
	"voicelog/internal/transcribe"
	"voicelog/internal/volume"
	"voicelog/internal/workflow"
)

// Runtime bundles the components shared by the daemon and the one-shot run.
type Runtime struct {
	Store    *ledger.Store
	Migrator *ingest.Migrator
	Manager  *workflow.Manager
	Notifier notifications.Service
}

// Build opens the ledger, clears interrupted staging copies and assembles the
// workflow manager with the enabled stages. The caller must hold the instance
// lock. settle is how long the volume must
// stay visible before a cycle touches it; zero trusts the first poll.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, settle time.Duration) (*Runtime, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	store, err := ledger.Open(cfg)
	if err != nil {
		return nil, err
	}

	handlers, err := buildStages(ctx, cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	migrator := ingest.NewMigrator(cfg, store, logger)
	cleaned := migrator.CleanStaging(ctx)
	if len(cleaned.Removed) > 0 {
		logger.Info("removed interrupted staging copies",
			logging.Int("files", len(cleaned.Removed)),
			logging.Int64("bytes", cleaned.Bytes),
			logging.String(logging.FieldEventType, "staging_cleaned"),
		)
	}
	for _, failure := range cleaned.Errors {
		logger.Warn("staging cleanup failed",
			logging.String("path", failure.Path),
			logging.Error(failure.Error),
			logging.String(logging.FieldEventType, "staging_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale partial copies use disk space"),
			logging.String(logging.FieldErrorHint, "remove the file manually"),
		)
	}

	notifier := notifications.NewService(cfg)
	watcher := volume.NewWatcher(volume.NewMountSource(cfg, logger),
		volume.WithSettle(settle),
		volume.WithLogger(logger),
	)
	manager := workflow.NewManager(cfg, workflow.Deps{
		Store:    store,
		Watcher:  watcher,
		Migrator: migrator,
		Runner:   pipeline.NewRunner(store, handlers, logger),
		Notifier: notifier,
	}, logger)

	return &Runtime{Store: store, Migrator: migrator, Manager: manager, Notifier: notifier}, nil
}

// Close releases the ledger.
func (r *Runtime) Close() error {
	if r == nil || r.Store == nil {
		return nil
	}
	return r.Store.Close()
}

func buildStages(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]stage.Handler, error) {
	handlers := []stage.Handler{transcribe.New(cfg, logger)}
	if cfg.Summarizer.Enabled {
		summarizer, err := summarize.New(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("summarizer: %w", err)
		}
		handlers = append(handlers, summarizer)
	}
	return handlers, nil
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	results := preflight.RunAll(ctx, cfg)
	failed := preflight.Failed(results)
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Int("checks", len(results)),
		logging.Int("failed", len(failed)),
		logging.Bool("summarizer_enabled", cfg.Summarizer.Enabled),
		logging.String("summarizer_provider", cfg.Summarizer.Provider),
		logging.Bool("summarizer_key_present", strings.TrimSpace(cfg.Summarizer.APIKey) != ""),
		logging.Bool("recorder_enabled", cfg.Recorder.Enabled),
		logging.Any("mount_roots", cfg.Volume.MountRoots),
	)
	for _, result := range failed {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "affected stages fail until this is fixed"),
			logging.String(logging.FieldErrorHint, "run voicelog config validate"),
		)
	}
}
