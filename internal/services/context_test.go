package services_test

import (
	"context"
	"testing"

	"voicelog/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithCycleID(ctx, "cycle-1")
	ctx = services.WithStage(ctx, "transcribe")
	ctx = services.WithSourceIdentity(ctx, "REC/A.wav|10|1700000000")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.CycleIDFromContext(ctx); !ok || id != "cycle-1" {
		t.Fatalf("unexpected cycle id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "transcribe" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if identity, ok := services.SourceIdentityFromContext(ctx); !ok || identity != "REC/A.wav|10|1700000000" {
		t.Fatalf("unexpected identity: %v %v", identity, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
}
