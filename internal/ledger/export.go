package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"voicelog/internal/fileutil"
)

// Snapshot is a point-in-time copy of the whole ledger.
type Snapshot struct {
	ExportedAt time.Time `json:"exported_at" yaml:"exported_at"`
	Stats      Stats     `json:"stats" yaml:"stats"`
	Entries    []*Entry  `json:"entries" yaml:"entries"`
}

// Snapshot reads every entry with its stage results.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	entries, err := s.List(ctx, Filter{})
	if err != nil {
		return Snapshot{}, err
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if entries == nil {
		entries = []*Entry{}
	}
	return Snapshot{ExportedAt: time.Now().UTC(), Stats: stats, Entries: entries}, nil
}

// Export writes a JSON snapshot to path atomically.
func (s *Store) Export(ctx context.Context, path string) error {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger snapshot: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write ledger snapshot: %w", err)
	}
	return nil
}
