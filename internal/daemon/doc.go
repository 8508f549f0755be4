// Package daemon coordinates the long-running voicelog process.
//
// It holds the single-instance flock, runs the workflow manager next to the
// recorder supervisor, and turns mount-root (fsnotify) and udev (netlink)
// events into early polls. Operator controls and the aggregated status are
// exposed here for the IPC server and the optional HTTP API.
package daemon
