package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"casiel/internal/contentapi"
	"casiel/internal/creative"
	"casiel/internal/logging"
	"casiel/internal/services"
	"casiel/internal/tempfiles"
)

// errStop ends the run successfully before the remaining steps.
var errStop = errors.New("workflow stopped early")

// jobState accumulates what each step produced for the steps after it.
type jobState struct {
	job     Job
	tracker *tempfiles.Tracker
	logger  *slog.Logger

	content      *contentapi.Content
	media        *contentapi.Media
	originalName string
	originalPath string
	audioHash    string
	technical    map[string]any
	creative     *creative.Metadata
	lightPath    string
	lightMedia   *contentapi.Media

	result Result
}

type step struct {
	name string
	run  func(context.Context, *jobState) error
}

// Orchestrator runs jobs through the pipeline. It holds no per-job state and
// is safe for concurrent use.
type Orchestrator struct {
	deps   Dependencies
	opts   Options
	logger *slog.Logger
	steps  []step
}

// New constructs an orchestrator.
func New(deps Dependencies, opts Options, logger *slog.Logger) (*Orchestrator, error) {
	if deps.Content == nil || deps.Local == nil || deps.Creative == nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "new orchestrator", "content, local and creative dependencies are required", nil)
	}
	if opts.SlugSuffix == nil {
		opts.SlugSuffix = randomSuffix
	}
	o := &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "workflow"),
	}
	o.steps = []step{
		{"fetch_content", o.fetchContent},
		{"fetch_media", o.fetchMedia},
		{"download", o.download},
		{"hash", o.hash},
		{"dedup", o.dedup},
		{"technical_analysis", o.technicalAnalysis},
		{"creative_analysis", o.creativeAnalysis},
		{"transcode", o.transcode},
		{"upload", o.upload},
		{"finalize", o.finalize},
	}
	return o, nil
}

// StepNames lists the pipeline steps in execution order.
func (o *Orchestrator) StepNames() []string {
	names := make([]string, len(o.steps))
	for i, s := range o.steps {
		names[i] = s.name
	}
	return names
}

// Run executes the pipeline for job. Files it creates are registered with
// tracker; the caller cleans them up.
func (o *Orchestrator) Run(ctx context.Context, job Job, tracker *tempfiles.Tracker) (Result, error) {
	if tracker == nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "workflow", "run", "temp file tracker is required", nil)
	}
	ctx = services.WithContentID(ctx, job.ContentID)
	ctx = services.WithMediaID(ctx, job.MediaID)
	state := &jobState{
		job:     job,
		tracker: tracker,
		logger:  logging.WithContext(ctx, o.logger),
		result:  Result{Outcome: OutcomeSuccess},
	}

	started := time.Now()
	total := len(o.steps)
	for i, s := range o.steps {
		stepCtx := services.WithStage(ctx, s.name)
		stepLogger := logging.WithContext(stepCtx, o.logger)
		state.logger = stepLogger

		stepStart := time.Now()
		err := o.runStep(stepCtx, s, state)
		if errors.Is(err, errStop) {
			stepLogger.Info(fmt.Sprintf("Step %d/%d: %s ended the run early", i+1, total, s.name),
				logging.String("outcome", string(state.result.Outcome)),
				logging.String(logging.FieldEventType, "workflow_short_circuit"),
			)
			break
		}
		if err != nil {
			stepLogger.Warn(fmt.Sprintf("Step %d/%d: %s failed", i+1, total, s.name),
				logging.Error(err),
				logging.String(logging.FieldEventType, "workflow_step_failed"),
				logging.String(logging.FieldErrorHint, "see error for the failing collaborator"),
				logging.String(logging.FieldImpact, "job handed to failure handling"),
			)
			return Result{}, err
		}
		stepLogger.Info(fmt.Sprintf("Step %d/%d: %s complete", i+1, total, s.name),
			logging.Duration("step_duration", time.Since(stepStart)),
			logging.String(logging.FieldEventType, "workflow_step_complete"),
		)
	}

	o.logger.Info("workflow finished",
		logging.Int64(logging.FieldContentID, job.ContentID),
		logging.String("outcome", string(state.result.Outcome)),
		logging.Duration("duration", time.Since(started)),
		logging.String(logging.FieldEventType, "workflow_complete"),
	)
	return state.result, nil
}

// runStep executes one step, converting a panic into an ordinary error.
func (o *Orchestrator) runStep(ctx context.Context, s step, state *jobState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			state.logger.Error("workflow step panicked",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
				logging.Alert("workflow_panic"),
			)
			err = services.Wrap(services.ErrTransient, s.name, "run", "step panicked", fmt.Errorf("panic: %v", r))
		}
	}()
	if err := s.run(ctx, state); err != nil {
		if errors.Is(err, errStop) {
			return err
		}
		return services.Wrap(markerFor(err), s.name, "", "", err)
	}
	return nil
}

// markerFor keeps the collaborator's classification when present.
func markerFor(err error) error {
	for _, marker := range []error{
		services.ErrQuotaExceeded,
		services.ErrMalformed,
		services.ErrValidation,
		services.ErrTimeout,
		services.ErrExternalTool,
		services.ErrNotFound,
		services.ErrConfiguration,
	} {
		if errors.Is(err, marker) {
			return marker
		}
	}
	return services.ErrTransient
}
