// Package workflow runs ingestion cycles.
//
// The Manager polls the volume watcher on a fixed interval and, when the
// volume is present and the manager is not paused, runs one cycle: pending
// source deletions are retried, unseen recordings are migrated into the local
// library, and every ledger entry with outstanding stages is driven through
// the pipeline oldest first. At most one cycle runs at a time; triggers that
// arrive while a cycle is active are dropped rather than queued.
//
// Progress is published through a status.Reporter, for which the manager is
// the only writer.
package workflow
