package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"voicelog/internal/config"
	"voicelog/internal/fileutil"
	"voicelog/internal/ledger"
	"voicelog/internal/logging"
	"voicelog/internal/services"
	"voicelog/internal/staging"
	"voicelog/internal/volume"
)

// Ledger is the subset of the ledger store the migrator writes to.
type Ledger interface {
	Has(ctx context.Context, identity string) (bool, error)
	Record(ctx context.Context, entry ledger.Entry) error
	MarkSourceDeleted(ctx context.Context, identity string, at time.Time) error
	LocalPathOwner(ctx context.Context, localPath string) (string, bool, error)
}

// CopyFunc copies src to a new file at dst and verifies it.
type CopyFunc func(src, dst string, expectedSize int64, verifyDigest bool) (fileutil.CopyResult, error)

// Outcome describes what Migrate did with one file.
type Outcome struct {
	Identity  string
	LocalPath string
	Bytes     int64
	SHA256    string
	// AlreadyIngested is set when the ledger held the identity and nothing
	// was done.
	AlreadyIngested bool
	// Recorded is set once the ledger entry is durable.
	Recorded      bool
	SourceDeleted bool
}

// Migrator performs copy, verify, and delete for one file at a time.
type Migrator struct {
	ledger       Ledger
	rawDir       string
	stagingDir   string
	verifyDigest bool
	logger       *slog.Logger
	now          func() time.Time
	copy         CopyFunc
	remove       func(string) error
}

// Option customizes a Migrator.
type Option func(*Migrator)

// WithCopyFunc replaces the verified copy implementation.
func WithCopyFunc(fn CopyFunc) Option {
	return func(m *Migrator) {
		if fn != nil {
			m.copy = fn
		}
	}
}

// WithRemoveFunc replaces source deletion.
func WithRemoveFunc(fn func(string) error) Option {
	return func(m *Migrator) {
		if fn != nil {
			m.remove = fn
		}
	}
}

// WithClock overrides the time source used for ingested_at.
func WithClock(now func() time.Time) Option {
	return func(m *Migrator) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMigrator constructs a migrator writing into the configured library.
func NewMigrator(cfg *config.Config, store Ledger, logger *slog.Logger, opts ...Option) *Migrator {
	m := &Migrator{
		ledger:       store,
		rawDir:       cfg.RawDir(),
		stagingDir:   cfg.StagingDir(),
		verifyDigest: cfg.Storage.VerifyDigest,
		logger:       logging.NewComponentLogger(logger, "ingest"),
		now:          time.Now,
		copy:         fileutil.CopyVerified,
		remove:       os.Remove,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CleanStaging removes in-flight copies left behind by an interrupted run.
// Call it only while no migration is running.
func (m *Migrator) CleanStaging(ctx context.Context) staging.CleanResult {
	return staging.Clean(ctx, m.stagingDir, 0, m.logger)
}

// Migrate ingests ref. A non-nil error with Outcome.Recorded set is a failed
// source deletion; the local copy and ledger entry remain valid.
func (m *Migrator) Migrate(ctx context.Context, ref volume.FileRef) (Outcome, error) {
	outcome := Outcome{Identity: ref.Identity}
	// A started migration runs to completion; only timeouts interrupt it.
	ctx = services.WithSourceIdentity(context.WithoutCancel(ctx), ref.Identity)
	logger := logging.WithContext(ctx, m.logger)

	known, err := m.ledger.Has(ctx, ref.Identity)
	if err != nil {
		return outcome, err
	}
	if known {
		outcome.AlreadyIngested = true
		return outcome, nil
	}

	if err := checkUnchanged(ref); err != nil {
		return outcome, err
	}

	if err := os.MkdirAll(m.stagingDir, 0o755); err != nil {
		return outcome, services.Wrap(services.ErrCopyVerification, "ingest", "stage", "create staging directory", err)
	}
	part := staging.NewPartPath(m.stagingDir)
	started := time.Now()
	copied, err := m.copy(ref.Path, part, ref.Size, m.verifyDigest)
	if err != nil {
		_ = os.Remove(part)
		return outcome, services.WithHint(
			services.Wrap(services.ErrCopyVerification, "ingest", "copy", ref.RelPath, err),
			"the source is untouched and will be retried next cycle",
		)
	}
	outcome.Bytes = copied.Bytes
	outcome.SHA256 = copied.SHA256
	// Keep the recorder's timestamp on the local copy.
	_ = os.Chtimes(part, ref.ModTime, ref.ModTime)

	final, err := m.finalPath(ctx, ref)
	if err != nil {
		_ = os.Remove(part)
		return outcome, err
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		_ = os.Remove(part)
		return outcome, services.Wrap(services.ErrCopyVerification, "ingest", "promote", "create raw directory", err)
	}
	if err := fileutil.RenameDurable(part, final); err != nil {
		_ = os.Remove(part)
		return outcome, services.Wrap(services.ErrCopyVerification, "ingest", "promote", "rename into library", err)
	}
	outcome.LocalPath = final

	entry := ledger.Entry{
		SourceIdentity: ref.Identity,
		SourceRelPath:  ref.RelPath,
		SourceSize:     ref.Size,
		SourceModTime:  ref.ModTime,
		ContentSHA256:  copied.SHA256,
		LocalPath:      final,
		IngestedAt:     m.now().UTC(),
	}
	if err := m.ledger.Record(ctx, entry); err != nil {
		// Without a ledger entry nothing references the copy; the source is
		// still on the volume and will be copied again.
		if rmErr := os.Remove(final); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			logging.WarnWithContext(logger, "failed to remove unrecorded copy", "ingest_orphan_copy",
				logging.String("path", final),
				logging.Error(rmErr),
				logging.String(logging.FieldImpact, "an unreferenced audio file remains in the library"),
				logging.String(logging.FieldErrorHint, "remove the file manually"),
			)
		}
		outcome.LocalPath = ""
		return outcome, err
	}
	outcome.Recorded = true
	logger.Info("recording ingested",
		logging.String("source", ref.RelPath),
		logging.String("local_path", final),
		logging.Int64("bytes", copied.Bytes),
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldEventType, "file_ingested"),
	)

	if err := m.deleteSource(ctx, ref); err != nil {
		return outcome, err
	}
	outcome.SourceDeleted = true
	return outcome, nil
}

// RetryDelete removes the source of an already recorded entry. The local copy
// must still exist with the recorded size; the file is never copied again.
func (m *Migrator) RetryDelete(ctx context.Context, entry *ledger.Entry, ref volume.FileRef) error {
	if entry == nil || entry.SourceIdentity != ref.Identity {
		return services.Wrap(services.ErrDeleteAtSource, "ingest", "retry_delete", "ledger entry does not match source", nil)
	}
	ctx = services.WithSourceIdentity(context.WithoutCancel(ctx), ref.Identity)
	info, err := os.Stat(entry.LocalPath)
	if err != nil || info.Size() != entry.SourceSize {
		return services.WithHint(
			services.Wrap(services.ErrDeleteAtSource, "ingest", "retry_delete",
				"local copy missing or incomplete; keeping source", err),
			"restore "+entry.LocalPath+" or reset the ledger entry",
		)
	}
	return m.deleteSource(ctx, ref)
}

func (m *Migrator) deleteSource(ctx context.Context, ref volume.FileRef) error {
	if err := m.remove(ref.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return services.WithHint(
			services.Wrap(services.ErrDeleteAtSource, "ingest", "delete_source", ref.RelPath, err),
			"deletion is retried while the volume stays mounted",
		)
	}
	_ = fileutil.SyncDir(filepath.Dir(ref.Path))
	return m.ledger.MarkSourceDeleted(ctx, ref.Identity, m.now().UTC())
}

// finalPath returns the deterministic library path for ref. A path owned by
// a different identity gets a short identity hash suffix.
func (m *Migrator) finalPath(ctx context.Context, ref volume.FileRef) (string, error) {
	name := RawName(ref)
	candidate := filepath.Join(m.rawDir, name)
	owner, taken, err := m.ledger.LocalPathOwner(ctx, candidate)
	if err != nil {
		return "", err
	}
	if !taken || owner == ref.Identity {
		return candidate, nil
	}
	sum := sha256.Sum256([]byte(ref.Identity))
	ext := filepath.Ext(name)
	return filepath.Join(m.rawDir, fmt.Sprintf("%s_%s%s", strings.TrimSuffix(name, ext), hex.EncodeToString(sum[:4]), ext)), nil
}

// RawName is the library file name for ref: the source modification time
// followed by the relative path with separators flattened.
func RawName(ref volume.FileRef) string {
	flat := strings.ReplaceAll(ref.RelPath, "/", "__")
	return ref.ModTime.Local().Format("20060102_150405") + "_" + flat
}

func checkUnchanged(ref volume.FileRef) error {
	info, err := os.Stat(ref.Path)
	if err != nil {
		return services.Wrap(services.ErrCopyVerification, "ingest", "stat_source", ref.RelPath, err)
	}
	if info.Size() != ref.Size || info.ModTime().Unix() != ref.ModTime.Unix() {
		return services.WithHint(
			services.Wrap(services.ErrCopyVerification, "ingest", "stat_source", "source changed since it was listed", nil),
			"the file may still be written; it is retried next cycle",
		)
	}
	return nil
}
