package staging_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"casiel/internal/logging"
	"casiel/internal/staging"
	"casiel/internal/testsupport"
)

func TestAcquireLocksSlot(t *testing.T) {
	workDir := t.TempDir()
	leftover := filepath.Join(workDir, "consumer-1", "old-job", "x_original.wav")
	testsupport.WriteFile(t, leftover, 4)

	slot, err := staging.Acquire(workDir, "consumer-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Fatal("leftovers from a dead owner must be cleared")
	}
	if _, err := staging.Acquire(workDir, "consumer-1"); !errors.Is(err, staging.ErrNoFreeSlot) {
		t.Fatalf("expected busy slot, got %v", err)
	}

	if err := slot.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(slot.Dir); !os.IsNotExist(err) {
		t.Fatal("released slot dir must be removed")
	}
	again, err := staging.Acquire(workDir, "consumer-1")
	if err != nil {
		t.Fatalf("re-Acquire: %v", err)
	}
	_ = again.Release()
	if err := slot.Release(); err != nil {
		t.Fatalf("second Release must be a no-op: %v", err)
	}
}

func TestAcquireNextSkipsHeldSlots(t *testing.T) {
	workDir := t.TempDir()
	first, err := staging.AcquireNext(workDir, "consumer")
	if err != nil {
		t.Fatalf("AcquireNext: %v", err)
	}
	defer first.Release()
	second, err := staging.AcquireNext(workDir, "consumer")
	if err != nil {
		t.Fatalf("AcquireNext: %v", err)
	}
	defer second.Release()

	if first.Name != "consumer-1" || second.Name != "consumer-2" {
		t.Fatalf("unexpected slot names %s, %s", first.Name, second.Name)
	}
}

func TestReapOrphanedSkipsLiveSlots(t *testing.T) {
	workDir := t.TempDir()
	live, err := staging.Acquire(workDir, "consumer-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer live.Release()
	liveFile := filepath.Join(live.Dir, "job", "a.mp3")
	testsupport.WriteFile(t, liveFile, 4)

	orphan := filepath.Join(workDir, "consumer-2", "job", "b.wav")
	testsupport.WriteFile(t, orphan, 4)
	stray := filepath.Join(workDir, "9f2c", "c.wav")
	testsupport.WriteFile(t, stray, 4)

	result := staging.ReapOrphaned(context.Background(), workDir, logging.NewNop())

	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors %+v", result.Errors)
	}
	if len(result.Removed) != 2 || len(result.Skipped) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if _, err := os.Stat(liveFile); err != nil {
		t.Fatalf("live slot content must survive: %v", err)
	}
	for _, path := range []string{orphan, stray} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed", path)
		}
	}
}

func TestReapOrphanedMissingDir(t *testing.T) {
	result := staging.ReapOrphaned(context.Background(), filepath.Join(t.TempDir(), "none"), nil)
	if len(result.Errors) != 0 || len(result.Removed) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
}
