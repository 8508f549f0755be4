// Package daemonctl starts, stops and restarts a detached voicelog daemon
// from the CLI. Stop asks over IPC first and falls back to SIGKILL using the
// pid file in the log directory.
package daemonctl
