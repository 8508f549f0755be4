package status_test

import (
	"errors"
	"sync"
	"testing"

	"voicelog/internal/services"
	"voicelog/internal/status"
)

func TestInitialSnapshotIsIdle(t *testing.T) {
	r := status.NewReporter()
	snap := r.Snapshot()
	if snap.Phase != status.PhaseIdle || snap.Progress != 0 || snap.Running {
		t.Fatalf("unexpected initial snapshot %+v", snap)
	}
}

func TestCycleProgress(t *testing.T) {
	r := status.NewReporter()
	r.BeginCycle("c1", "scheduled")
	r.BeginCopying(4)
	r.CopyStarted("A.wav")
	r.FileCopied()
	if got := r.Snapshot(); got.Phase != status.PhaseCopying || got.Progress != 25 {
		t.Fatalf("unexpected copy progress %+v", got)
	}
	for range 3 {
		r.FileCopied()
	}
	r.FileCopied()
	if got := r.Snapshot().Progress; got != 100 {
		t.Fatalf("copy progress must cap at 100, got %d", got)
	}

	r.BeginPipeline(2, 4)
	r.StageStarted(status.PhaseTranscribing, "A.wav")
	r.StageFinished()
	r.StageStarted(status.PhaseSummarizing, "A.wav")
	snap := r.Snapshot()
	if snap.Phase != status.PhaseSummarizing || snap.Progress != 25 || snap.CurrentFile != "A.wav" {
		t.Fatalf("unexpected stage snapshot %+v", snap)
	}

	r.Complete("done")
	snap = r.Snapshot()
	if snap.Phase != status.PhaseComplete || snap.Progress != 100 || snap.Running {
		t.Fatalf("unexpected final snapshot %+v", snap)
	}
	if snap.LastCycle == nil || snap.LastCycle.CycleID != "c1" || snap.LastCycle.Copied != 4 || snap.LastCycle.Stages != 1 {
		t.Fatalf("unexpected last cycle %+v", snap.LastCycle)
	}
}

func TestFileFailureIsTransient(t *testing.T) {
	r := status.NewReporter()
	r.BeginCycle("c1", "manual")
	r.BeginPipeline(2, 2)
	r.StageStarted(status.PhaseTranscribing, "A.wav")
	err := services.WithDetailPath(services.Wrap(services.ErrTranscribe, "transcribe", "whisper", "exit 3", nil), "/diag/A.log")
	r.FileFailed("A.wav", err)
	r.StageFinished()

	snap := r.Snapshot()
	if snap.Phase != status.PhaseError || snap.Progress != 50 {
		t.Fatalf("expected transient error with stage progress, got %+v", snap)
	}
	if len(snap.Failures) != 1 || snap.Failures[0].Kind != "transcribe" || snap.Failures[0].DetailPath != "/diag/A.log" || snap.Failures[0].Phase != status.PhaseTranscribing {
		t.Fatalf("unexpected failures %+v", snap.Failures)
	}

	r.StageStarted(status.PhaseTranscribing, "B.wav")
	if got := r.Snapshot().Phase; got != status.PhaseTranscribing {
		t.Fatalf("expected phase to resume, got %s", got)
	}
	r.Complete("")
	snap = r.Snapshot()
	if snap.Phase != status.PhaseComplete || len(snap.Failures) != 1 || snap.LastCycle.Failures != 1 {
		t.Fatalf("failures must stay visible after completion: %+v", snap)
	}

	r.BeginCycle("c2", "scheduled")
	if snap := r.Snapshot(); len(snap.Failures) != 0 || snap.LastError != nil {
		t.Fatalf("new cycle must reset failures: %+v", snap)
	}
}

func TestAbortAndVolumeAbsent(t *testing.T) {
	r := status.NewReporter()
	r.BeginCycle("c1", "scheduled")
	r.VolumeAbsent("VOICE_REC not mounted")
	snap := r.Snapshot()
	if snap.Phase != status.PhaseVolumeAbsent || snap.Running || snap.LastCycle.Phase != status.PhaseVolumeAbsent {
		t.Fatalf("unexpected absent snapshot %+v", snap)
	}

	r.BeginCycle("c2", "scheduled")
	r.Abort(services.Wrap(services.ErrPersistence, "ledger", "record", "disk full", errors.New("io")))
	snap = r.Snapshot()
	if snap.Phase != status.PhaseError || snap.LastError == nil || snap.LastError.Kind != "persistence" {
		t.Fatalf("unexpected abort snapshot %+v", snap)
	}
}

func TestPausedFlag(t *testing.T) {
	r := status.NewReporter()
	r.SetPaused(true)
	if !r.Snapshot().Paused {
		t.Fatal("expected paused")
	}
	r.BeginCycle("c1", "manual")
	if !r.Snapshot().Paused {
		t.Fatal("pause flag must survive cycle resets")
	}
	r.SetPaused(false)
	if r.Snapshot().Paused {
		t.Fatal("expected resumed")
	}
}

func TestConcurrentReaders(t *testing.T) {
	r := status.NewReporter()
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := r.Snapshot()
				if snap.Progress < 0 || snap.Progress > 100 {
					t.Errorf("progress out of range: %d", snap.Progress)
					return
				}
			}
		}()
	}
	for i := range 200 {
		r.BeginCycle("c", "scheduled")
		r.BeginCopying(i%5 + 1)
		r.FileCopied()
		r.Complete("")
	}
	close(stop)
	wg.Wait()
}
