package worker

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"casiel/internal/broker"
	"casiel/internal/logging"
	"casiel/internal/services"
)

// Listener consumes deliveries until its context ends.
type Listener interface {
	Listen(ctx context.Context, handler broker.Handler) error
}

// Pool runs one listener per consumer. Each listener keeps its own broker
// session, so the per-consumer prefetch bounds in-flight jobs.
type Pool struct {
	listeners []Listener
	handler   broker.Handler
	logger    *slog.Logger
}

// NewPool constructs a pool over listeners.
func NewPool(listeners []Listener, handler broker.Handler, logger *slog.Logger) (*Pool, error) {
	if len(listeners) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "worker", "new pool", "at least one listener is required", nil)
	}
	if handler == nil {
		return nil, services.Wrap(services.ErrConfiguration, "worker", "new pool", "handler is required", nil)
	}
	return &Pool{
		listeners: listeners,
		handler:   handler,
		logger:    logging.NewComponentLogger(logger, "pool"),
	}, nil
}

// Size reports the number of consumers.
func (p *Pool) Size() int {
	return len(p.listeners)
}

// Run blocks until ctx is cancelled or a listener fails.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool starting", logging.Int("consumers", len(p.listeners)))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, listener := range p.listeners {
		group.Go(func() error {
			consumerLogger := p.logger.With(logging.Int("consumer", i+1))
			consumerLogger.Debug("consumer started")
			err := listener.Listen(groupCtx, p.handler)
			consumerLogger.Debug("consumer stopped", logging.Error(err))
			return err
		})
	}
	err := group.Wait()
	p.logger.Info("worker pool stopped")
	return err
}
