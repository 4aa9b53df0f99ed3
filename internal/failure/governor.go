// Package failure decides what happens to a delivery whose job failed:
// another broker-driven retry, or a terminal failure recorded on the content
// record and parked on the final dead-letter queue.
package failure

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"casiel/internal/broker"
	"casiel/internal/logging"
	"casiel/internal/services"
)

// DefaultMaxRetries is the number of broker redeliveries before a job is
// dead-lettered for good.
const DefaultMaxRetries = 3

// statusWriteTimeout bounds the failed-status update so a slow content API
// cannot hold the delivery.
const statusWriteTimeout = 30 * time.Second

// StatusWriter records the failed status on the content record.
type StatusWriter interface {
	UpdateContent(ctx context.Context, id int64, payload map[string]any) error
}

// Action is the outcome of a failure decision.
type Action int

const (
	ActionRetry Action = iota
	ActionDeadLetter
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionDeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// Config tunes the governor.
type Config struct {
	MaxRetries int
	WorkQueue  string
}

// Governor settles failed deliveries.
type Governor struct {
	status StatusWriter
	cfg    Config
	logger *slog.Logger
}

// New constructs a Governor.
func New(status StatusWriter, cfg Config, logger *slog.Logger) (*Governor, error) {
	if status == nil {
		return nil, services.Wrap(services.ErrConfiguration, "failure", "new governor", "status writer is required", nil)
	}
	if strings.TrimSpace(cfg.WorkQueue) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "failure", "new governor", "work queue name is required", nil)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &Governor{
		status: status,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "failure"),
	}, nil
}

// Decide returns ActionRetry while retryCount is below the limit and the
// failure is not final.
func (g *Governor) Decide(retryCount int, final bool) Action {
	if final || retryCount >= g.cfg.MaxRetries {
		return ActionDeadLetter
	}
	return ActionRetry
}

// Handle runs cleanup, then settles d according to Decide. Errors matching
// services.ErrMalformed are always final. The delivery is settled on every
// path.
func (g *Governor) Handle(ctx context.Context, d broker.Delivery, contentID int64, jobErr error, final bool, cleanup func()) Action {
	if cleanup != nil {
		cleanup()
	}
	if jobErr == nil {
		jobErr = errors.New("unknown failure")
	}
	final = final || services.IsFinal(jobErr)
	retries := broker.DeathCount(d.Headers(), g.cfg.WorkQueue)
	action := g.Decide(retries, final)

	logger := logging.WithContext(services.WithContentID(ctx, contentID), g.logger).With(
		logging.Int("retry_count", retries),
		logging.Int("max_retries", g.cfg.MaxRetries),
	)

	if action == ActionRetry {
		logging.WarnWithContext(logger, "job failed; scheduling broker retry", "job_retry",
			logging.Error(jobErr),
			logging.Int("attempt", retries+1),
			logging.String(logging.FieldErrorHint, "the message returns from the retry queue after its TTL"),
			logging.String(logging.FieldImpact, "processing is delayed"),
		)
		if err := d.Nack(false); err != nil {
			logger.Error("nack failed", logging.Error(err), logging.String(logging.FieldEventType, "nack_failed"))
		}
		return action
	}

	logger.Error("job failed permanently; dead-lettering",
		logging.Error(jobErr),
		logging.Bool("final", final),
		logging.Int("attempts", retries+1),
		logging.String(logging.FieldEventType, "job_dead_lettered"),
	)
	g.writeFailedStatus(ctx, logger, contentID, jobErr)

	if err := d.PublishFinal(ctx); err != nil {
		logger.Error("final dead-letter publish failed; rejecting without requeue",
			logging.Error(err),
			logging.Alert("final_dlq_publish_failed"),
		)
		if err := d.Nack(false); err != nil {
			logger.Error("nack failed", logging.Error(err), logging.String(logging.FieldEventType, "nack_failed"))
		}
		return action
	}
	if err := d.Ack(); err != nil {
		logger.Error("ack failed", logging.Error(err), logging.String(logging.FieldEventType, "ack_failed"))
	}
	return action
}

func (g *Governor) writeFailedStatus(ctx context.Context, logger *slog.Logger, contentID int64, jobErr error) {
	if contentID <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	payload := map[string]any{
		"content_data": map[string]any{
			"casiel_status": "failed",
			"casiel_error":  jobErr.Error(),
		},
	}
	if err := g.status.UpdateContent(ctx, contentID, payload); err != nil {
		logger.Error("could not record failed status; dead-lettering anyway",
			logging.Error(err),
			logging.Alert("critical_status_write_failed"),
		)
		return
	}
	logger.Info("content marked as failed", logging.String(logging.FieldEventType, "status_failed_written"))
}
