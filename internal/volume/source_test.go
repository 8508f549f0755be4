package volume_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"voicelog/internal/services"
	"voicelog/internal/testsupport"
	"voicelog/internal/volume"
)

func TestLocateExactAndPartialMatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	source := volume.NewMountSource(cfg, nil)
	ctx := context.Background()

	if _, ok, err := source.Locate(ctx); err != nil || ok {
		t.Fatalf("expected absent volume, got ok=%v err=%v", ok, err)
	}

	root := cfg.Volume.MountRoots[0]
	partial := filepath.Join(root, "my_voice_rec_1")
	if err := os.MkdirAll(partial, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	mount, ok, err := source.Locate(ctx)
	if err != nil || !ok || mount != partial {
		t.Fatalf("Locate = %q, %v, %v; want partial match", mount, ok, err)
	}

	exact := testsupport.VolumeRoot(cfg)
	if err := os.MkdirAll(exact, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	mount, ok, err = source.Locate(ctx)
	if err != nil || !ok || mount != exact {
		t.Fatalf("Locate = %q, %v, %v; want exact match", mount, ok, err)
	}
}

func TestLocateRequiresMountPoint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Volume.RequireMountPoint = true
	if err := os.MkdirAll(testsupport.VolumeRoot(cfg), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	source := volume.NewMountSource(cfg, nil)
	if _, ok, err := source.Locate(context.Background()); err != nil || ok {
		t.Fatalf("plain directory must not count as mounted, got ok=%v err=%v", ok, err)
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root := testsupport.VolumeRoot(cfg)
	base := time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)

	testsupport.WriteRecording(t, root, "REC/B.WAV", []byte("bbbb"), base.Add(time.Hour))
	testsupport.WriteRecording(t, root, "REC/A.wav", []byte("aa"), base)
	testsupport.WriteRecording(t, root, "REC/C.mp3", []byte("c"), base)
	testsupport.WriteRecording(t, root, "REC/._A.wav", []byte("fork"), base)
	testsupport.WriteRecording(t, root, ".Trashes/old.wav", []byte("x"), base)
	testsupport.WriteRecording(t, root, "REC/notes.txt", []byte("x"), base)

	source := volume.NewMountSource(cfg, nil)
	refs, err := source.List(context.Background(), root)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	got := make([]string, 0, len(refs))
	for _, ref := range refs {
		got = append(got, ref.RelPath)
	}
	want := []string{"REC/A.wav", "REC/C.mp3", "REC/B.WAV"}
	if len(got) != len(want) {
		t.Fatalf("unexpected candidates %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("candidate %d = %q, want %q (all: %v)", i, got[i], want[i], got)
		}
	}
	if refs[0].Size != 2 || refs[0].Identity != volume.Identity("REC/A.wav", 2, base) {
		t.Fatalf("unexpected first ref: %+v", refs[0])
	}
}

func TestListHonorsSubdirAndPatterns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Volume.SourceSubdir = "RECORD"
	cfg.Volume.IncludePatterns = []string{"voice/**"}
	cfg.Volume.ExcludePatterns = []string{"**/draft_*"}
	root := testsupport.VolumeRoot(cfg)
	now := time.Now()

	testsupport.WriteRecording(t, root, "RECORD/VOICE/keep.wav", []byte("1"), now)
	testsupport.WriteRecording(t, root, "RECORD/voice/draft_1.wav", []byte("1"), now)
	testsupport.WriteRecording(t, root, "RECORD/music/song.wav", []byte("1"), now)
	testsupport.WriteRecording(t, root, "OTHER/voice/x.wav", []byte("1"), now)

	refs, err := volume.NewMountSource(cfg, nil).List(context.Background(), root)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(refs) != 1 || refs[0].RelPath != "VOICE/keep.wav" {
		t.Fatalf("unexpected candidates: %+v", refs)
	}
}

func TestListMissingSubdirIsEmpty(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Volume.SourceSubdir = "RECORD"
	root := testsupport.VolumeRoot(cfg)
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	refs, err := volume.NewMountSource(cfg, nil).List(context.Background(), root)
	if err != nil || len(refs) != 0 {
		t.Fatalf("expected no candidates, got %v %v", refs, err)
	}
}

func TestListVanishedVolume(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, err := volume.NewMountSource(cfg, nil).List(context.Background(), testsupport.VolumeRoot(cfg))
	if !errors.Is(err, services.ErrVolumeUnavailable) {
		t.Fatalf("expected ErrVolumeUnavailable, got %v", err)
	}
}

func TestIdentityIsNormalizationStable(t *testing.T) {
	mtime := time.Unix(1700000000, 123456789)
	composed := volume.Identity("録音/\u304c.wav", 10, mtime)
	decomposed := volume.Identity("録音/\u304b\u3099.wav", 10, mtime)
	if composed != decomposed {
		t.Fatalf("identities differ: %q vs %q", composed, decomposed)
	}
	if composed != "録音/\u304c.wav|10|1700000000" {
		t.Fatalf("unexpected identity %q", composed)
	}
	if volume.Identity("a.wav", 10, mtime) == volume.Identity("a.wav", 11, mtime) {
		t.Fatal("size must be part of the identity")
	}
}

func TestDefaultExtensionsAreCaseInsensitive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Volume.AudioExtensions = []string{".m4a"}
	root := testsupport.VolumeRoot(cfg)
	testsupport.WriteRecording(t, root, "a.M4A", []byte("1"), time.Now())
	testsupport.WriteRecording(t, root, "b.wav", []byte("1"), time.Now())

	refs, err := volume.NewMountSource(cfg, nil).List(context.Background(), root)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(refs) != 1 || refs[0].RelPath != "a.M4A" {
		t.Fatalf("unexpected candidates: %+v", refs)
	}
}
