// Package summarize implements the optional summary stage. Transcripts are
// sent to one of several interchangeable chat providers selected by
// configuration; provider wire formats stay inside this package.
package summarize
