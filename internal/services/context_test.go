package services_test

import (
	"context"
	"testing"

	"casiel/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithContentID(ctx, 123)
	ctx = services.WithMediaID(ctx, 456)
	ctx = services.WithStage(ctx, "download")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.ContentIDFromContext(ctx); !ok || id != 123 {
		t.Fatalf("unexpected content id: %v %v", id, ok)
	}
	if id, ok := services.MediaIDFromContext(ctx); !ok || id != 456 {
		t.Fatalf("unexpected media id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "download" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
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
	if _, ok := services.ContentIDFromContext(ctx); ok {
		t.Fatal("expected no content id")
	}
}
