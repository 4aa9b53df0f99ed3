package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"casiel/internal/broker"
	"casiel/internal/failure"
	"casiel/internal/journal"
	"casiel/internal/logging"
	"casiel/internal/services"
	"casiel/internal/tempfiles"
	"casiel/internal/workflow"
)

// Pipeline runs one job.
type Pipeline interface {
	Run(ctx context.Context, job workflow.Job, tracker *tempfiles.Tracker) (workflow.Result, error)
}

// FailureHandler settles a failed delivery.
type FailureHandler interface {
	Handle(ctx context.Context, d broker.Delivery, contentID int64, jobErr error, final bool, cleanup func()) failure.Action
}

// Journal records delivery attempts.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) (int64, error)
}

// ProcessorConfig locates per-job scratch space.
type ProcessorConfig struct {
	// JobDir is the parent of the per-job temp directories.
	JobDir    string
	WorkQueue string
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithJournal records every attempt in j.
func WithJournal(j Journal) ProcessorOption {
	return func(p *Processor) {
		p.journal = j
	}
}

// WithIDGenerator replaces the correlation id generator.
func WithIDGenerator(fn func() string) ProcessorOption {
	return func(p *Processor) {
		if fn != nil {
			p.newID = fn
		}
	}
}

// Processor handles deliveries. It is safe for concurrent use.
type Processor struct {
	cfg      ProcessorConfig
	pipeline Pipeline
	failures FailureHandler
	journal  Journal
	newID    func() string
	logger   *slog.Logger
}

// NewProcessor constructs a Processor.
func NewProcessor(cfg ProcessorConfig, pipeline Pipeline, failures FailureHandler, logger *slog.Logger, opts ...ProcessorOption) (*Processor, error) {
	if pipeline == nil || failures == nil {
		return nil, services.Wrap(services.ErrConfiguration, "worker", "new processor", "pipeline and failure handler are required", nil)
	}
	if strings.TrimSpace(cfg.JobDir) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "worker", "new processor", "job directory is required", nil)
	}
	p := &Processor{
		cfg:      cfg,
		pipeline: pipeline,
		failures: failures,
		newID:    uuid.NewString,
		logger:   logging.NewComponentLogger(logger, "worker"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Handle processes d and always settles it. Cancelling ctx does not
// interrupt a job that has started; the pipeline's own timeouts bound it.
func (p *Processor) Handle(ctx context.Context, d broker.Delivery) {
	id := p.newID()
	ctx = services.WithRequestID(context.WithoutCancel(ctx), id)
	started := time.Now()
	attempt := broker.DeathCount(d.Headers(), p.cfg.WorkQueue) + 1
	logger := logging.WithContext(ctx, p.logger)

	job, err := workflow.DecodeJob(d.Body())
	if err != nil {
		logger.Error("discarding malformed message",
			logging.Error(err),
			logging.String("body", snippet(d.Body())),
			logging.String(logging.FieldEventType, "job_malformed"),
		)
		p.failures.Handle(ctx, d, 0, err, true, nil)
		p.record(ctx, journal.Entry{
			CorrelationID: id,
			Attempt:       attempt,
			Outcome:       journal.OutcomeMalformed,
			Error:         err.Error(),
			StartedAt:     started,
		})
		return
	}

	ctx = services.WithMediaID(services.WithContentID(ctx, job.ContentID), job.MediaID)
	logger = logging.WithContext(ctx, p.logger)
	logger.Info("job received",
		logging.Int("attempt", attempt),
		logging.String(logging.FieldEventType, "job_received"),
	)
	entry := journal.Entry{
		CorrelationID: id,
		ContentID:     job.ContentID,
		MediaID:       job.MediaID,
		Attempt:       attempt,
		StartedAt:     started,
	}

	tracker, err := tempfiles.New(filepath.Join(p.cfg.JobDir, id), p.logger)
	if err != nil {
		p.fail(ctx, d, job, entry, err, false, nil)
		return
	}

	result, err := p.run(ctx, logger, job, tracker)
	if err != nil {
		p.fail(ctx, d, job, entry, err, errors.Is(err, errJobPanicked), tracker.Cleanup)
		return
	}

	tracker.Cleanup()
	if err := d.Ack(); err != nil {
		logger.Error("ack failed after successful run",
			logging.Error(err),
			logging.Alert("ack_failed"),
		)
	}
	entry.Outcome = journal.OutcomeSuccess
	if result.Outcome == workflow.OutcomeDuplicate {
		entry.Outcome = journal.OutcomeDuplicate
	}
	logger.Info("job complete",
		logging.String("outcome", string(result.Outcome)),
		logging.String("slug", result.Slug),
		logging.Int64("duplicate_of_content_id", result.DuplicateOf),
		logging.Duration("duration", time.Since(started)),
		logging.String(logging.FieldEventType, "job_complete"),
	)
	p.record(ctx, entry)
}

// errJobPanicked marks a panic that escaped the pipeline. Such failures are
// final.
var errJobPanicked = errors.New("job panicked")

func (p *Processor) run(ctx context.Context, logger *slog.Logger, job workflow.Job, tracker *tempfiles.Tracker) (result workflow.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
				logging.Alert("job_panic"),
			)
			err = services.Wrap(services.ErrTransient, "worker", "run", fmt.Sprintf("panic: %v", r), errJobPanicked)
		}
	}()
	return p.pipeline.Run(ctx, job, tracker)
}

func (p *Processor) fail(ctx context.Context, d broker.Delivery, job workflow.Job, entry journal.Entry, jobErr error, final bool, cleanup func()) {
	action := p.failures.Handle(ctx, d, job.ContentID, jobErr, final, cleanup)
	entry.Outcome = journal.OutcomeRetry
	if action == failure.ActionDeadLetter {
		entry.Outcome = journal.OutcomeFailed
	}
	entry.Error = jobErr.Error()
	p.record(ctx, entry)
}

func (p *Processor) record(ctx context.Context, entry journal.Entry) {
	if p.journal == nil {
		return
	}
	entry.FinishedAt = time.Now()
	if _, err := p.journal.Record(ctx, entry); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, p.logger), "journal write failed", "journal_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check log_dir permissions and free space"),
			logging.String(logging.FieldImpact, "attempt missing from casiel jobs output"),
		)
	}
}

func snippet(body []byte) string {
	const limit = 256
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
