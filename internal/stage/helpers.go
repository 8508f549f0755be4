package stage

import (
	"path/filepath"
	"strings"

	"voicelog/internal/ledger"
)

// Stem returns the artifact base name shared by every output of entry: the
// local audio file name without its extension.
func Stem(entry *ledger.Entry) string {
	base := filepath.Base(entry.LocalPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// OutputPath places an artifact for entry in dir with the given extension.
func OutputPath(dir string, entry *ledger.Entry, ext string) string {
	return filepath.Join(dir, Stem(entry)+ext)
}

// DiagnosticPath is where a stage retains tool output for entry.
func DiagnosticPath(dir string, entry *ledger.Entry, stageName string) string {
	return filepath.Join(dir, Stem(entry)+"."+stageName+".log")
}
