package volume

import (
	"fmt"
	"path"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// FileRef describes one candidate recording on the volume.
type FileRef struct {
	// Path is the absolute location on the mounted volume.
	Path string `json:"path"`
	// RelPath is slash separated, NFC normalized, and relative to the
	// scanned source directory.
	RelPath  string    `json:"rel_path"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mod_time"`
	Identity string    `json:"identity"`
}

// Name returns the base name of the file.
func (f FileRef) Name() string {
	return path.Base(f.RelPath)
}

// NormalizeRel converts a relative path to the slash separated NFC form used
// for identities. Volumes formatted on macOS report decomposed names, so the
// same recording must not get two identities depending on the host.
func NormalizeRel(rel string) string {
	rel = strings.ReplaceAll(rel, "\\", "/")
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	return norm.NFC.String(rel)
}

// Identity builds the ledger key for a source file.
func Identity(rel string, size int64, modTime time.Time) string {
	return fmt.Sprintf("%s|%d|%d", NormalizeRel(rel), size, modTime.Unix())
}
