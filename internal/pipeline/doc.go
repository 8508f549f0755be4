// Package pipeline drives ingested recordings through the configured stages.
//
// Each stage outcome is written to the ledger as soon as the stage finishes,
// so a crash never loses a completed transcript or summary. A failed stage is
// terminal for that recording until an operator resets it; later stages are
// not attempted and earlier successes are kept.
package pipeline
