// Package ledger persists which source files have been ingested and the
// outcome of every pipeline stage for each of them.
//
// The Store is backed by SQLite in WAL mode with synchronous=FULL. Every
// mutation runs in its own transaction, so a committed write survives a crash
// and an interrupted one leaves the previous state intact. The ledger is the
// single source of truth for deduplication: a source identity appears at most
// once, and a stage result can only be Succeeded after its prerequisite
// stage succeeded.
//
// Only the running ingestion cycle writes to the ledger; operator commands
// that mutate it are funnelled through the orchestrator between cycles.
package ledger
