package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"casiel/internal/config"
	"casiel/internal/journal"
	"casiel/internal/logging"
	"casiel/internal/staging"
)

// LockFileName is the single-instance lock under the log directory.
const LockFileName = "casield.lock"

// Runner is the consumer pool driven by the daemon.
type Runner interface {
	Run(ctx context.Context) error
}

// Daemon coordinates the consumer pool and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	pool    Runner
	journal *journal.Store
	slots   []*staging.Slot

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	LockFilePath string
	JournalPath  string
	Slots        []string
	Outcomes     map[journal.Outcome]int
}

// New constructs a daemon. The slots are released on Close.
func New(cfg *config.Config, pool Runner, store *journal.Store, logger *slog.Logger, slots ...*staging.Slot) (*Daemon, error) {
	if cfg == nil || pool == nil {
		return nil, errors.New("daemon requires config and consumer pool")
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, LockFileName)
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		pool:     pool,
		journal:  store,
		slots:    slots,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, reaps orphaned scratch directories, and
// launches the consumer pool.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(d.cfg.Paths.LogDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another casield instance is already running")
	}

	reaped := staging.ReapOrphaned(ctx, d.cfg.Paths.WorkDir, d.logger)
	if len(reaped.Removed) > 0 || len(reaped.Errors) > 0 {
		d.logger.Info("orphaned work directories reaped",
			logging.Int("removed", len(reaped.Removed)),
			logging.Int("errors", len(reaped.Errors)),
			logging.String(logging.FieldEventType, "staging_reaped"),
		)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.mu.Lock()
	d.cancel = cancel
	d.done = done
	d.runErr = nil
	d.mu.Unlock()

	go func() {
		defer close(done)
		err := d.pool.Run(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("consumer pool stopped unexpectedly",
				logging.Error(err),
				logging.String(logging.FieldEventType, "pool_failed"),
				logging.String(logging.FieldErrorHint, "check broker configuration"),
			)
		} else {
			err = nil
		}
		d.mu.Lock()
		d.runErr = err
		d.mu.Unlock()
	}()

	d.running.Store(true)
	d.logger.Info("casiel daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("slots", len(d.slots)),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Done is closed when the consumer pool exits. It is nil before Start.
func (d *Daemon) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Err returns the error that stopped the pool, if any.
func (d *Daemon) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runErr
}

// Stop cancels the pool, waits for in-flight jobs, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("casiel daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and releases the slots and journal.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	for _, slot := range d.slots {
		errs = append(errs, slot.Release())
	}
	d.slots = nil
	if d.journal != nil {
		errs = append(errs, d.journal.Close())
		d.journal = nil
	}
	return errors.Join(errs...)
}

// LockPath returns the daemon lock file.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		LockFilePath: d.lockPath,
	}
	for _, slot := range d.slots {
		status.Slots = append(status.Slots, slot.Dir)
	}
	if d.journal != nil {
		status.JournalPath = d.journal.Path()
		if counts, err := d.journal.Counts(ctx); err == nil {
			status.Outcomes = counts
		} else {
			d.logger.Warn("journal counts unavailable", logging.Error(err))
		}
	}
	return status
}
