// Package staging manages the per-consumer scratch directories under the
// work directory. Each consumer holds an exclusive file lock on its slot for
// as long as it runs, so a slot whose lock can be taken belongs to a dead
// process and its leftovers can be removed.
package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"casiel/internal/logging"
)

// ErrNoFreeSlot is returned when every slot name is held by a live process.
var ErrNoFreeSlot = errors.New("no free work slot")

// maxSlots bounds the slot search in AcquireNext.
const maxSlots = 64

const lockSuffix = ".lock"

// Slot is a locked scratch directory.
type Slot struct {
	Name string
	Dir  string
	lock *flock.Flock
}

// Acquire locks {workDir}/{name}.lock and prepares {workDir}/{name}. Leftover
// content from a previous owner is removed. It returns ErrNoFreeSlot when
// another process holds the lock.
func Acquire(workDir, name string) (*Slot, error) {
	workDir = strings.TrimSpace(workDir)
	if workDir == "" || strings.TrimSpace(name) == "" {
		return nil, errors.New("staging: work dir and slot name are required")
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	dir := filepath.Join(workDir, name)
	lock := flock.New(dir + lockSuffix)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock slot %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is held", ErrNoFreeSlot, name)
	}
	if err := os.RemoveAll(dir); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("clear slot %s: %w", name, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("create slot %s: %w", name, err)
	}
	return &Slot{Name: name, Dir: dir, lock: lock}, nil
}

// AcquireNext takes the first free slot named {prefix}-1, {prefix}-2, ...
func AcquireNext(workDir, prefix string) (*Slot, error) {
	for i := 1; i <= maxSlots; i++ {
		slot, err := Acquire(workDir, fmt.Sprintf("%s-%d", prefix, i))
		if err == nil {
			return slot, nil
		}
		if !errors.Is(err, ErrNoFreeSlot) {
			return nil, err
		}
	}
	return nil, ErrNoFreeSlot
}

// Release removes the slot directory and unlocks it.
func (s *Slot) Release() error {
	if s == nil || s.lock == nil {
		return nil
	}
	removeErr := os.RemoveAll(s.Dir)
	unlockErr := s.lock.Unlock()
	s.lock = nil
	return errors.Join(removeErr, unlockErr)
}

// CleanupResult contains the outcome of a reap.
type CleanupResult struct {
	Removed []string
	Skipped []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// ReapOrphaned removes every directory under workDir whose slot lock is free.
// Directories held by a running consumer are skipped.
func ReapOrphaned(ctx context.Context, workDir string, logger *slog.Logger) CleanupResult {
	result := CleanupResult{}
	logger = logging.NewComponentLogger(logger, "staging")

	workDir = strings.TrimSpace(workDir)
	if workDir == "" {
		return result
	}
	entries, err := os.ReadDir(workDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: workDir, Error: err})
		}
		return result
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.IsDir() {
			continue
		}
		dirPath := filepath.Join(workDir, entry.Name())
		lock := flock.New(dirPath + lockSuffix)
		ok, err := lock.TryLock()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			continue
		}
		if !ok {
			result.Skipped = append(result.Skipped, dirPath)
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			logger.Warn("failed to remove orphaned work directory",
				logging.String("path", dirPath),
				logging.Error(err),
				logging.String(logging.FieldEventType, "staging_cleanup_failed"),
				logging.String(logging.FieldErrorHint, "check work_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
		} else {
			result.Removed = append(result.Removed, dirPath)
			logger.Info("removed orphaned work directory",
				logging.String("path", dirPath),
				logging.String(logging.FieldEventType, "staging_cleanup"),
			)
		}
		_ = lock.Unlock()
		_ = os.Remove(dirPath + lockSuffix)
	}
	return result
}
