package staging_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"voicelog/internal/staging"
)

func TestNewPartPathIsUnique(t *testing.T) {
	dir := t.TempDir()
	a := staging.NewPartPath(dir)
	b := staging.NewPartPath(dir)
	if a == b {
		t.Fatal("expected unique part paths")
	}
	if filepath.Dir(a) != dir || !strings.HasSuffix(a, staging.PartSuffix) {
		t.Fatalf("unexpected part path %q", a)
	}
}

func TestCleanRemovesEverythingWithZeroAge(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"one.part", "two.part"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("data"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "keep"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	result := staging.Clean(context.Background(), dir, 0, nil)
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if len(result.Removed) != 2 || result.Bytes != 8 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if _, err := os.Stat(filepath.Join(dir, "keep")); err != nil {
		t.Fatalf("expected subdirectory to survive: %v", err)
	}
}

func TestCleanHonorsMaxAge(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.part")
	newPath := filepath.Join(dir, "new.part")
	for _, p := range []string{oldPath, newPath} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	result := staging.Clean(context.Background(), dir, time.Hour, nil)
	if len(result.Removed) != 1 || result.Removed[0] != oldPath {
		t.Fatalf("unexpected removals: %v", result.Removed)
	}
	if _, err := os.Stat(newPath); err != nil {
		t.Fatalf("expected recent file to survive: %v", err)
	}
}

func TestCleanMissingDirectory(t *testing.T) {
	result := staging.Clean(context.Background(), filepath.Join(t.TempDir(), "absent"), 0, nil)
	if len(result.Errors) != 0 || len(result.Removed) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}
