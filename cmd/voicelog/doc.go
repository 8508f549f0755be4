// Command voicelog runs the recorder ingestion daemon and talks to it over the
// local IPC socket.
//
// Most subcommands dial the daemon; "daemon" and "once" run the workflow in
// this process, and "config" and "ledger export" work without a daemon.
package main
