// Package logs reads and follows the daemon and recorder log files for the
// "voicelog logs" command.
package logs
