// Package fileutil holds the durable file primitives the migrator and the
// pipeline stages build on: verified copies, atomic replace, and directory
// fsync.
package fileutil
