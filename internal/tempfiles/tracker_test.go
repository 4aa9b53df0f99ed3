package tempfiles_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"casiel/internal/logging"
	"casiel/internal/tempfiles"
)

func newTracker(t *testing.T) (*tempfiles.Tracker, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "job-1")
	tracker, err := tempfiles.New(dir, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tracker, dir
}

func TestOriginalPathUsesSourceExtension(t *testing.T) {
	tracker, dir := newTracker(t)

	if got, want := tracker.OriginalPath(42, "Loop One.wav"), filepath.Join(dir, "42_original.wav"); got != want {
		t.Fatalf("OriginalPath = %q, want %q", got, want)
	}
	if got, want := tracker.OriginalPath(43, "noext"), filepath.Join(dir, "43_original.tmp"); got != want {
		t.Fatalf("OriginalPath without extension = %q, want %q", got, want)
	}
}

func TestLightweightPathSanitizesBase(t *testing.T) {
	tracker, dir := newTracker(t)

	got := tracker.LightweightPath(`dark pad/loop\v2`)
	if want := filepath.Join(dir, "dark_pad_loop_v2.mp3"); got != want {
		t.Fatalf("LightweightPath = %q, want %q", got, want)
	}
}

func TestPathsDeduplicatesInOrder(t *testing.T) {
	tracker, _ := newTracker(t)
	tracker.Track("/a")
	tracker.Track("/b")
	tracker.Track("/a")
	tracker.Track("  ")

	if got := tracker.Paths(); !reflect.DeepEqual(got, []string{"/a", "/b"}) {
		t.Fatalf("Paths = %v", got)
	}
}

func TestCleanupRemovesFilesAndDirectory(t *testing.T) {
	tracker, dir := newTracker(t)
	original := tracker.OriginalPath(1, "a.mp3")
	light := tracker.LightweightPath("a")
	if err := os.WriteFile(original, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	// light is never created; cleanup must tolerate it.
	_ = light

	tracker.Cleanup()

	if _, err := os.Stat(original); !os.IsNotExist(err) {
		t.Fatalf("expected original removed, stat err=%v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected job directory removed, stat err=%v", err)
	}
	if len(tracker.Paths()) != 0 {
		t.Fatalf("expected empty set after cleanup, got %v", tracker.Paths())
	}

	tracker.Cleanup()
}

func TestCleanupKeepsDirectoryWithUntrackedFiles(t *testing.T) {
	tracker, dir := newTracker(t)
	stray := filepath.Join(dir, "stray.log")
	if err := os.WriteFile(stray, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tracker.Cleanup()

	if _, err := os.Stat(stray); err != nil {
		t.Fatalf("expected untracked file to remain: %v", err)
	}
}

func TestNewRequiresBaseDir(t *testing.T) {
	if _, err := tempfiles.New(" ", nil); err == nil {
		t.Fatal("expected error for blank base dir")
	}
}
