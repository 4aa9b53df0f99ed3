package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"casiel/internal/broker"
	"casiel/internal/config"
	"casiel/internal/daemon"
	"casiel/internal/deps"
	"casiel/internal/journal"
	"casiel/internal/logging"
	"casiel/internal/preflight"
	"casiel/internal/staging"
	"casiel/internal/worker"
)

const (
	logPattern     = "casiel-*.log"
	currentLogName = "casiel.log"
	pidFileName    = "casiel.pid"
	slotPrefix     = "worker"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel      string
	SkipPreflight bool
}

// Run starts the worker and blocks until a signal arrives or the consumer
// pool fails.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("casiel-%s.log", runID))
	logger, err := logging.NewFromConfig(cfg, logPath)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", currentLogName, err)
	}
	logging.PruneLogs(logger, cfg.Paths.LogDir, logPattern, cfg.Logging.RetentionDays, logPath)

	pidPath := filepath.Join(cfg.Paths.LogDir, pidFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	svc, err := NewServices(cfg, logger)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	defer svc.Close()

	if !opts.SkipPreflight {
		if err := runPreflight(signalCtx, cfg, svc, logger); err != nil {
			return err
		}
	}

	store, err := journal.Open(cfg)
	if err != nil {
		logger.Error("open journal", logging.Error(err))
		return err
	}
	pruneJournal(signalCtx, store, cfg.Logging.RetentionDays, logger)

	slot, err := staging.AcquireNext(cfg.Paths.WorkDir, slotPrefix)
	if err != nil {
		store.Close()
		return fmt.Errorf("acquire work slot: %w", err)
	}

	pool, err := buildPool(cfg, svc, store, slot, logger)
	if err != nil {
		_ = slot.Release()
		store.Close()
		return err
	}

	d, err := daemon.New(cfg, pool, store, logger, slot)
	if err != nil {
		_ = slot.Release()
		store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "stop the other casield instance or remove a stale lock"),
			logging.String(logging.FieldImpact, "no jobs will be consumed"),
		)
		return err
	}

	select {
	case <-signalCtx.Done():
		logger.Info("casiel daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	case <-d.Done():
	}
	d.Stop()
	return d.Err()
}

func buildPool(cfg *config.Config, svc *Services, store *journal.Store, slot *staging.Slot, logger *slog.Logger) (*worker.Pool, error) {
	processor, err := worker.NewProcessor(worker.ProcessorConfig{
		JobDir:    slot.Dir,
		WorkQueue: cfg.Broker.WorkQueue,
	}, svc.Pipeline, svc.Failures, logger, worker.WithJournal(store))
	if err != nil {
		return nil, err
	}

	consumers := max(cfg.Broker.Consumers, 1)
	listeners := make([]worker.Listener, 0, consumers)
	for i := range consumers {
		connector, err := broker.New(BrokerConfig(cfg, strconv.Itoa(i+1)), logger)
		if err != nil {
			return nil, err
		}
		listeners = append(listeners, connector)
	}
	return worker.NewPool(listeners, processor.Handle, logger)
}

func runPreflight(ctx context.Context, cfg *config.Config, svc *Services, logger *slog.Logger) error {
	probe, err := broker.New(BrokerConfig(cfg, "preflight"), logger)
	if err != nil {
		return err
	}
	results := preflight.RunAll(ctx, cfg, preflight.Probes{
		Redis:   svc.Redis,
		Broker:  probe,
		Content: svc.Content,
	})
	for _, result := range results {
		attrs := []logging.Attr{
			logging.String("check", result.Name),
			logging.Bool("passed", result.Passed),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldEventType, "preflight_check"),
		}
		if result.Passed || result.Optional {
			logger.Info("preflight check", logging.Args(attrs...)...)
			continue
		}
		logger.Error("preflight check failed", logging.Args(attrs...)...)
	}
	if failed := preflight.Failed(results); len(failed) > 0 {
		return errors.New(preflight.Summarize(failed))
	}
	return nil
}

func pruneJournal(ctx context.Context, store *journal.Store, retentionDays int, logger *slog.Logger) {
	if retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed, err := store.Prune(ctx, cutoff)
	if err != nil {
		logging.WarnWithContext(logger, "journal prune failed", "journal_prune_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "old attempts remain in the journal"),
		)
		return
	}
	if removed > 0 {
		logger.Info("journal pruned",
			logging.Int64("removed", removed),
			logging.String(logging.FieldEventType, "journal_pruned"),
		)
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, currentLogName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("gemini_key_present", strings.TrimSpace(cfg.Gemini.APIKey) != ""),
		logging.String("http_strategy", cfg.HTTP.Strategy),
		logging.Int("consumers", cfg.Broker.Consumers),
	}
	for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
		key := strings.ToLower(strings.ReplaceAll(status.Name, " ", "_"))
		attrs = append(attrs,
			logging.Bool(key+"_available", status.Available),
			logging.String(key+"_binary", status.Command),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
