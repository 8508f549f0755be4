// Package services defines shared utilities consumed by the ingestion cycle,
// pipeline stages, and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp cycle IDs, stage names, source identities,
//     and correlation identifiers for logging.
//   - Failure markers plus the Wrap helper. Every component error carries one
//     marker; Kind turns it into the stable string stored in the ledger and
//     IsCycleFatal separates shared-infrastructure failures from file-scoped
//     ones.
//   - Detail path and hint annotations that point operators at retained
//     diagnostic output.
package services
