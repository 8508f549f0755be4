// Package logging assembles structured slog loggers used across voicelog.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so cycle and stage code can tag
// log lines with cycle IDs, stage names, and source identities. ErrorAttrs
// turns a classified error into error_kind, error_hint, and error_detail_path
// fields. The package also provides a no-op logger for tests and wiring code
// that cannot fail.
package logging
