package services_test

import (
	"errors"
	"strings"
	"testing"

	"casiel/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "transcode", "ffmpeg", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"transcode", "ffmpeg", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestIsFinalOnlyForMalformed(t *testing.T) {
	malformed := services.Wrap(services.ErrMalformed, "decode", "", "missing media_id", nil)
	if !services.IsFinal(malformed) {
		t.Fatal("expected malformed job to be final")
	}
	for _, marker := range []error{
		services.ErrExternalTool,
		services.ErrValidation,
		services.ErrQuotaExceeded,
		services.ErrTimeout,
	} {
		err := services.Wrap(marker, "step", "op", "msg", errors.New("cause"))
		if services.IsFinal(err) {
			t.Fatalf("expected %v to be retryable", marker)
		}
	}
	if services.IsFinal(nil) {
		t.Fatal("nil error must not be final")
	}
}
