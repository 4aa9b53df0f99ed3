// Package tempfiles tracks the scratch files a single job creates so they can
// be removed together once the job reaches a terminal outcome.
package tempfiles

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"casiel/internal/logging"
)

// Tracker owns the temporary paths of one job. It is safe for concurrent use.
type Tracker struct {
	baseDir string
	logger  *slog.Logger

	mu    sync.Mutex
	paths []string
	seen  map[string]struct{}
}

// New creates baseDir if needed and returns an empty tracker rooted there.
func New(baseDir string, logger *slog.Logger) (*Tracker, error) {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		return nil, errors.New("tempfiles: base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("tempfiles: create %s: %w", baseDir, err)
	}
	return &Tracker{
		baseDir: baseDir,
		logger:  logging.NewComponentLogger(logger, "tempfiles"),
		seen:    make(map[string]struct{}),
	}, nil
}

// BaseDir returns the directory all derived paths live in.
func (t *Tracker) BaseDir() string {
	return t.baseDir
}

// OriginalPath returns and registers the download destination for a media
// item. The extension comes from originalName and defaults to "tmp".
func (t *Tracker) OriginalPath(mediaID int64, originalName string) string {
	ext := strings.TrimPrefix(filepath.Ext(strings.TrimSpace(originalName)), ".")
	if ext == "" {
		ext = "tmp"
	}
	path := filepath.Join(t.baseDir, strconv.FormatInt(mediaID, 10)+"_original."+ext)
	t.Track(path)
	return path
}

// LightweightPath returns and registers the transcode destination for baseName.
func (t *Tracker) LightweightPath(baseName string) string {
	path := filepath.Join(t.baseDir, SafeName(baseName)+".mp3")
	t.Track(path)
	return path
}

// Track registers an externally created path. Duplicates are ignored.
func (t *Tracker) Track(path string) {
	if strings.TrimSpace(path) == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[path]; ok {
		return
	}
	t.seen[path] = struct{}{}
	t.paths = append(t.paths, path)
}

// Paths returns the registered paths in registration order.
func (t *Tracker) Paths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.paths...)
}

// Cleanup removes every registered path and then the base directory when it
// is empty. Missing files are not errors. The set is cleared afterwards, so a
// second call does nothing.
func (t *Tracker) Cleanup() {
	t.mu.Lock()
	paths := t.paths
	t.paths = nil
	t.seen = make(map[string]struct{})
	t.mu.Unlock()

	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logging.WarnWithContext(t.logger, "temp file removal failed", "tempfile_cleanup_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check work_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		t.logger.Debug("temp file removed", logging.String("path", path))
	}

	// Leftovers written by external tools keep the directory; the stale
	// reaper handles those on the next start.
	if err := os.Remove(t.baseDir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		t.logger.Debug("job directory kept", logging.String("path", t.baseDir), logging.Error(err))
	}
}

// SafeName replaces path separators and spaces so name can be used as a
// single file name component.
func SafeName(name string) string {
	return strings.NewReplacer("/", "_", `\`, "_", " ", "_").Replace(strings.TrimSpace(name))
}
