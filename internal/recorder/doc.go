// Package recorder keeps the optional recording process alive for the
// lifetime of the daemon. It is independent of ingestion: it never touches the
// ledger or the pipeline and only reports its own status.
package recorder
