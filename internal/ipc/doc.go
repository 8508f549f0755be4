// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// Request and response types live in types.go; reuse them when adding
// endpoints so CLI and daemon builds stay compatible.
package ipc
