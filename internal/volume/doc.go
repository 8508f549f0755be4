// Package volume locates the recorder's removable volume and lists the audio
// files it carries.
//
// MountSource answers the two questions the ingestion cycle asks of the
// operating system: is a volume with the configured name mounted, and which
// candidate files does it hold. Watcher layers presence debouncing on top so
// a volume that flickers during mount is not ingested until it has been seen
// for a full poll interval.
//
// Every FileRef carries a stable identity derived from its relative path,
// size, and modification time. Identity never depends on inode numbers or
// other values the operating system may reuse.
package volume
