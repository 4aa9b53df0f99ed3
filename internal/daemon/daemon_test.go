package daemon_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"casiel/internal/daemon"
	"casiel/internal/logging"
	"casiel/internal/staging"
	"casiel/internal/testsupport"
)

type blockingPool struct {
	started chan struct{}
	err     error
}

func newBlockingPool() *blockingPool {
	return &blockingPool{started: make(chan struct{}, 1)}
}

func (p *blockingPool) Run(ctx context.Context) error {
	p.started <- struct{}{}
	if p.err != nil {
		return p.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func waitStarted(t *testing.T, p *blockingPool) {
	t.Helper()
	select {
	case <-p.started:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not start")
	}
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)
	slot, err := staging.AcquireNext(cfg.Paths.WorkDir, "consumer")
	if err != nil {
		t.Fatalf("AcquireNext: %v", err)
	}
	pool := newBlockingPool()

	d, err := daemon.New(cfg, pool, store, logging.NewNop(), slot)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitStarted(t, pool)

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.LockFilePath != filepath.Join(cfg.Paths.LogDir, daemon.LockFileName) {
		t.Fatalf("unexpected lock path %q", status.LockFilePath)
	}
	if len(status.Slots) != 1 || status.Slots[0] != slot.Dir {
		t.Fatalf("unexpected slots %v", status.Slots)
	}
	if status.JournalPath != store.Path() {
		t.Fatalf("unexpected journal path %q", status.JournalPath)
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
	select {
	case <-d.Done():
	default:
		t.Fatal("pool should have exited")
	}
	if err := d.Err(); err != nil {
		t.Fatalf("cancellation must not surface as an error: %v", err)
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, err := daemon.New(cfg, newBlockingPool(), nil, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = first.Close() })
	second, err := daemon.New(cfg, newBlockingPool(), nil, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		t.Fatal("expected lock contention error")
	}

	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start after release: %v", err)
	}
}

func TestDaemonReapsOrphanedDirectories(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	orphan := filepath.Join(cfg.Paths.WorkDir, "consumer-7", "job", "x_original.wav")
	testsupport.WriteFile(t, orphan, 8)

	d, err := daemon.New(cfg, newBlockingPool(), nil, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(filepath.Dir(orphan))); !os.IsNotExist(err) {
		t.Fatal("expected orphaned slot to be reaped")
	}
}

func TestDaemonSurfacesPoolFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	pool := newBlockingPool()
	pool.err = errors.New("broker url rejected")

	d, err := daemon.New(cfg, pool, nil, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pool exit not observed")
	}
	if err := d.Err(); err == nil || err.Error() != "broker url rejected" {
		t.Fatalf("unexpected err %v", err)
	}
}

func TestDaemonCloseReleasesResources(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)
	slot, err := staging.Acquire(cfg.Paths.WorkDir, "consumer-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	d, err := daemon.New(cfg, newBlockingPool(), store, logging.NewNop(), slot)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	again, err := staging.Acquire(cfg.Paths.WorkDir, "consumer-1")
	if err != nil {
		t.Fatalf("slot should be free after Close: %v", err)
	}
	_ = again.Release()
	if _, err := store.Counts(context.Background()); err == nil {
		t.Fatal("journal should be closed")
	}
}

func TestNewRequiresPool(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemon.New(cfg, nil, nil, nil); err == nil {
		t.Fatal("expected error without pool")
	}
}
