package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"voicelog/internal/services"
)

const entryColumns = `source_identity, source_rel_path, source_size, source_mtime,
	content_sha256, local_path, ingested_at, source_deleted_at`

// Has reports whether identity has been recorded.
func (s *Store) Has(ctx context.Context, identity string) (bool, error) {
	var count int
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			"SELECT COUNT(1) FROM entries WHERE source_identity = ?", identity,
		).Scan(&count)
	})
	if err != nil {
		return false, services.Wrap(services.ErrPersistence, "ledger", "has", "ledger read failed", err)
	}
	return count > 0, nil
}

// Get returns the entry for identity with its stage results.
func (s *Store) Get(ctx context.Context, identity string) (*Entry, error) {
	var entry *Entry
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM entries WHERE source_identity = ?", identity)
		scanned, err := scanEntry(row)
		if err != nil {
			return err
		}
		entry = scanned
		return s.loadStages(ctx, []*Entry{entry})
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "ledger", "get", "no entry for "+identity, nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "ledger", "get", "ledger read failed", err)
	}
	return entry, nil
}

// Record durably inserts a new entry and any stage results it carries. It
// returns once the transaction has committed.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.SourceIdentity) == "" || strings.TrimSpace(entry.LocalPath) == "" {
		return services.Wrap(services.ErrPersistence, "ledger", "record", "identity and local path are required", nil)
	}
	if entry.IngestedAt.IsZero() {
		entry.IngestedAt = time.Now().UTC()
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(1) FROM entries WHERE source_identity = ?", entry.SourceIdentity,
		).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicate, entry.SourceIdentity)
		}
		var deletedAt sql.NullString
		if entry.SourceDeletedAt != nil {
			deletedAt = nullString(formatTime(*entry.SourceDeletedAt))
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.SourceIdentity,
			entry.SourceRelPath,
			entry.SourceSize,
			formatTime(entry.SourceModTime),
			nullString(entry.ContentSHA256),
			entry.LocalPath,
			formatTime(entry.IngestedAt),
			deletedAt,
		); err != nil {
			return err
		}
		for stage, result := range entry.Stages {
			if err := upsertStage(ctx, tx, entry.SourceIdentity, stage, result); err != nil {
				return err
			}
		}
		return nil
	})
	return persistenceError("record", err)
}

// UpdateStage durably replaces the result of one stage. A Succeeded result is
// refused while the stage's prerequisite has not succeeded.
func (s *Store) UpdateStage(ctx context.Context, identity, stage string, result StageResult) error {
	if result.AttemptedAt.IsZero() && result.State != StateNotRun {
		result.AttemptedAt = time.Now().UTC()
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireEntry(ctx, tx, identity, "update_stage"); err != nil {
			return err
		}
		if prereq := Prerequisite(stage); prereq != "" && result.State == StateSucceeded {
			state, err := stageState(ctx, tx, identity, prereq)
			if err != nil {
				return err
			}
			if state != StateSucceeded {
				return services.Wrap(services.ErrPrerequisite, "ledger", "update_stage",
					fmt.Sprintf("%s requires %s to succeed first", stage, prereq), nil)
			}
		}
		return upsertStage(ctx, tx, identity, stage, result)
	})
	return persistenceError("update_stage", err)
}

// ResetStage returns stage and every stage depending on it to NotRun so the
// next cycle retries them.
func (s *Store) ResetStage(ctx context.Context, identity, stage string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireEntry(ctx, tx, identity, "reset_stage"); err != nil {
			return err
		}
		for _, name := range append([]string{stage}, dependents(stage)...) {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM stage_results WHERE source_identity = ? AND stage = ?", identity, name,
			); err != nil {
				return err
			}
		}
		return nil
	})
	return persistenceError("reset_stage", err)
}

// ResetFailed resets every failed stage of identity.
func (s *Store) ResetFailed(ctx context.Context, identity string) ([]string, error) {
	entry, err := s.Get(ctx, identity)
	if err != nil {
		return nil, err
	}
	var reset []string
	for stage, result := range entry.Stages {
		if result.State != StateFailed {
			continue
		}
		if err := s.ResetStage(ctx, identity, stage); err != nil {
			return reset, err
		}
		reset = append(reset, stage)
	}
	sort.Strings(reset)
	return reset, nil
}

// MarkSourceDeleted records that the source copy of identity is gone.
func (s *Store) MarkSourceDeleted(ctx context.Context, identity string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE entries SET source_deleted_at = ? WHERE source_identity = ?", formatTime(at), identity,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return services.Wrap(services.ErrNotFound, "ledger", "mark_source_deleted", "no entry for "+identity, nil)
		}
		return nil
	})
	return persistenceError("mark_source_deleted", err)
}

// LocalPathOwner returns the identity that owns localPath, if any.
func (s *Store) LocalPathOwner(ctx context.Context, localPath string) (string, bool, error) {
	var identity string
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			"SELECT source_identity FROM entries WHERE local_path = ?", localPath,
		).Scan(&identity)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, services.Wrap(services.ErrPersistence, "ledger", "local_path_owner", "ledger read failed", err)
	}
	return identity, true, nil
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	query := "SELECT " + entryColumns + " FROM entries"
	if filter.AwaitingDelete {
		query += " WHERE source_deleted_at IS NULL"
	}
	query += " ORDER BY source_mtime DESC, source_identity DESC"
	entries, err := s.query(ctx, query)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "ledger", "list", "ledger read failed", err)
	}
	if filter.FailedOnly {
		kept := entries[:0]
		for _, entry := range entries {
			if entry.HasFailure() {
				kept = append(kept, entry)
			}
		}
		entries = kept
	}
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}

// Pending returns entries with work left for the given stages, oldest
// source file first.
func (s *Store) Pending(ctx context.Context, stages []string) ([]*Entry, error) {
	entries, err := s.query(ctx,
		"SELECT "+entryColumns+" FROM entries ORDER BY source_mtime ASC, source_rel_path ASC",
	)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "ledger", "pending", "ledger read failed", err)
	}
	pending := make([]*Entry, 0, len(entries))
	for _, entry := range entries {
		if _, ok := entry.NextStage(stages); ok {
			pending = append(pending, entry)
		}
	}
	return pending, nil
}

// AwaitingSourceDelete returns entries whose source copy has not been removed.
func (s *Store) AwaitingSourceDelete(ctx context.Context) ([]*Entry, error) {
	entries, err := s.query(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE source_deleted_at IS NULL ORDER BY source_mtime ASC",
	)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "ledger", "awaiting_source_delete", "ledger read failed", err)
	}
	return entries, nil
}

// Stats counts entries and stage outcomes.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Succeeded: map[string]int{}, Failed: map[string]int{}}
	err := retryOnBusy(ctx, func() error {
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(1), COUNT(1) - COUNT(source_deleted_at) FROM entries",
		).Scan(&stats.Entries, &stats.AwaitingDelete); err != nil {
			return err
		}
		rows, err := s.db.QueryContext(ctx, "SELECT stage, state, COUNT(1) FROM stage_results GROUP BY stage, state")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				stage, state string
				count        int
			)
			if err := rows.Scan(&stage, &state, &count); err != nil {
				return err
			}
			switch StageState(state) {
			case StateSucceeded:
				stats.Succeeded[stage] = count
			case StateFailed:
				stats.Failed[stage] = count
			}
		}
		return rows.Err()
	})
	if err != nil {
		return Stats{}, services.Wrap(services.ErrPersistence, "ledger", "stats", "ledger read failed", err)
	}
	return stats, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	var entries []*Entry
	err := retryOnBusy(ctx, func() error {
		entries = nil
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		for rows.Next() {
			entry, err := scanEntry(rows)
			if err != nil {
				rows.Close()
				return err
			}
			entries = append(entries, entry)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
		return s.loadStages(ctx, entries)
	})
	return entries, err
}

func (s *Store) loadStages(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	byID := make(map[string]*Entry, len(entries))
	for _, entry := range entries {
		byID[entry.SourceIdentity] = entry
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_identity, stage, state, output_path, error_kind, message, detail_path, attempted_at
		 FROM stage_results`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			identity, stage, state                   string
			output, kind, message, detail, attempted sql.NullString
		)
		if err := rows.Scan(&identity, &stage, &state, &output, &kind, &message, &detail, &attempted); err != nil {
			return err
		}
		entry, ok := byID[identity]
		if !ok {
			continue
		}
		if entry.Stages == nil {
			entry.Stages = make(map[string]StageResult)
		}
		entry.Stages[stage] = StageResult{
			State:       StageState(state),
			OutputPath:  output.String,
			ErrorKind:   kind.String,
			Message:     message.String,
			DetailPath:  detail.String,
			AttemptedAt: parseTime(attempted.String),
		}
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		entry             Entry
		mtime, ingested   string
		digest, deletedAt sql.NullString
	)
	if err := row.Scan(
		&entry.SourceIdentity,
		&entry.SourceRelPath,
		&entry.SourceSize,
		&mtime,
		&digest,
		&entry.LocalPath,
		&ingested,
		&deletedAt,
	); err != nil {
		return nil, err
	}
	entry.SourceModTime = parseTime(mtime)
	entry.ContentSHA256 = digest.String
	entry.IngestedAt = parseTime(ingested)
	if deletedAt.Valid {
		at := parseTime(deletedAt.String)
		entry.SourceDeletedAt = &at
	}
	return &entry, nil
}

func requireEntry(ctx context.Context, tx *sql.Tx, identity, op string) error {
	var count int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM entries WHERE source_identity = ?", identity,
	).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return services.Wrap(services.ErrNotFound, "ledger", op, "no entry for "+identity, nil)
	}
	return nil
}

func stageState(ctx context.Context, tx *sql.Tx, identity, stage string) (StageState, error) {
	var state string
	err := tx.QueryRowContext(ctx,
		"SELECT state FROM stage_results WHERE source_identity = ? AND stage = ?", identity, stage,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return StateNotRun, nil
	}
	return StageState(state), err
}

func upsertStage(ctx context.Context, tx *sql.Tx, identity, stage string, result StageResult) error {
	if result.State == "" {
		result.State = StateNotRun
	}
	var attempted sql.NullString
	if !result.AttemptedAt.IsZero() {
		attempted = nullString(formatTime(result.AttemptedAt))
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO stage_results (source_identity, stage, state, output_path, error_kind, message, detail_path, attempted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_identity, stage) DO UPDATE SET
		   state = excluded.state,
		   output_path = excluded.output_path,
		   error_kind = excluded.error_kind,
		   message = excluded.message,
		   detail_path = excluded.detail_path,
		   attempted_at = excluded.attempted_at`,
		identity,
		stage,
		string(result.State),
		nullString(result.OutputPath),
		nullString(result.ErrorKind),
		nullString(result.Message),
		nullString(result.DetailPath),
		attempted,
	)
	return err
}
