// Package preflight provides readiness checks for the directories, programs
// and services voicelog depends on.
//
// The daemon logs the results at startup and "voicelog config validate"
// prints them. Each check is gated by its config toggle.
package preflight
