package stage

import (
	"testing"

	"voicelog/internal/ledger"
)

func TestStemAndPaths(t *testing.T) {
	entry := &ledger.Entry{LocalPath: "/lib/raw/20250101_120000_REC__A.wav"}
	if got := Stem(entry); got != "20250101_120000_REC__A" {
		t.Fatalf("unexpected stem %q", got)
	}
	if got := OutputPath("/lib/transcripts", entry, ".txt"); got != "/lib/transcripts/20250101_120000_REC__A.txt" {
		t.Fatalf("unexpected output path %q", got)
	}
	if got := DiagnosticPath("/lib/diagnostics", entry, "transcribe"); got != "/lib/diagnostics/20250101_120000_REC__A.transcribe.log" {
		t.Fatalf("unexpected diagnostic path %q", got)
	}
}

func TestStemWithDottedName(t *testing.T) {
	entry := &ledger.Entry{LocalPath: "/lib/raw/20250101_120000_v1.2.m4a"}
	if got := Stem(entry); got != "20250101_120000_v1.2" {
		t.Fatalf("unexpected stem %q", got)
	}
}
