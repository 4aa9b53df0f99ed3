package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"casiel/internal/logging"
	"casiel/internal/services"
	"casiel/internal/workflow"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultPrefetch       = 1
	DefaultHealthInterval = 15 * time.Second
	DefaultReconnectDelay = 5 * time.Second
	DefaultHeartbeat      = 60 * time.Second
)

// Config describes one consumer connection.
type Config struct {
	URL            string
	WorkQueue      string
	ConsumerTag    string
	Prefetch       int
	RetryTTL       time.Duration
	HealthInterval time.Duration
	ReconnectDelay time.Duration
	Heartbeat      time.Duration
}

// Handler processes one delivery. It must settle the delivery (ack or nack)
// before returning.
type Handler func(ctx context.Context, d Delivery)

// Option configures a Connector.
type Option func(*Connector)

// WithDialer replaces the AMQP dialer.
func WithDialer(dial Dialer) Option {
	return func(c *Connector) {
		if dial != nil {
			c.dial = dial
		}
	}
}

// Connector consumes the work queue, reconnecting after any failure.
type Connector struct {
	cfg    Config
	dial   Dialer
	logger *slog.Logger
}

var errSessionEnded = errors.New("broker session ended")

// New validates cfg and constructs a Connector.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Connector, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "broker", "new connector", "broker url is required", nil)
	}
	if strings.TrimSpace(cfg.WorkQueue) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "broker", "new connector", "work queue name is required", nil)
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = DefaultPrefetch
	}
	if cfg.RetryTTL <= 0 {
		cfg.RetryTTL = DefaultRetryTTL
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	c := &Connector{
		cfg:    cfg,
		dial:   DialAMQP,
		logger: logging.NewComponentLogger(logger, "broker"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Listen consumes deliveries and passes each to handler, one at a time. It
// reconnects after a fixed delay whenever the session ends and returns only
// once ctx is cancelled.
func (c *Connector) Listen(ctx context.Context, handler Handler) error {
	if handler == nil {
		return services.Wrap(services.ErrConfiguration, "broker", "listen", "handler is required", nil)
	}
	operation := func() error {
		err := c.session(ctx, handler)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err == nil {
			err = errSessionEnded
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logging.WarnWithContext(c.logger, "broker session ended; reconnecting", "broker_reconnect",
			logging.Error(err),
			logging.Duration("retry_in", wait),
			logging.String(logging.FieldErrorHint, "check RabbitMQ availability and credentials"),
			logging.String(logging.FieldImpact, "no jobs are consumed until the connection is restored"),
		)
	}
	policy := backoff.WithContext(backoff.NewConstantBackOff(c.cfg.ReconnectDelay), ctx)
	err := backoff.RetryNotify(operation, policy, notify)
	if ctx.Err() != nil {
		c.logger.Info("broker listener stopped")
		return nil
	}
	return err
}

// session runs one connection and channel until either fails or ctx ends.
// Both are closed before it returns.
func (c *Connector) session(ctx context.Context, handler Handler) error {
	c.logger.Info("connecting to broker", logging.String("queue", c.cfg.WorkQueue))
	conn, err := c.dial(c.cfg.URL, amqp.Config{Heartbeat: c.cfg.Heartbeat, Locale: "en_US"})
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer closeQuietly(conn.Close)

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer closeQuietly(ch.Close)

	if err := declareTopology(ch, c.cfg.WorkQueue, c.cfg.RetryTTL); err != nil {
		return err
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	deliveries, err := ch.Consume(c.cfg.WorkQueue, c.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.cfg.WorkQueue, err)
	}

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chanClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	health := time.NewTicker(c.cfg.HealthInterval)
	defer health.Stop()

	c.logger.Info("broker connected; consuming",
		logging.String("queue", c.cfg.WorkQueue),
		logging.Int("prefetch", c.cfg.Prefetch),
		logging.String(logging.FieldEventType, "broker_connected"),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-connClosed:
			return closeReason("connection", amqpErr)
		case amqpErr := <-chanClosed:
			return closeReason("channel", amqpErr)
		case <-health.C:
			if conn.IsClosed() {
				return errors.New("health check: connection is closed")
			}
		case raw, ok := <-deliveries:
			if !ok {
				return errors.New("delivery stream closed")
			}
			handler(ctx, &delivery{ch: ch, raw: raw})
		}
	}
}

// Publish sends job to the work queue through the main exchange on a
// short-lived connection.
func (c *Connector) Publish(ctx context.Context, job workflow.Job) error {
	body, err := workflow.EncodeJob(job)
	if err != nil {
		return err
	}
	conn, err := c.dial(c.cfg.URL, amqp.Config{Heartbeat: c.cfg.Heartbeat, Locale: "en_US"})
	if err != nil {
		return services.Wrap(services.ErrTransient, "broker", "publish", "dial broker", err)
	}
	defer closeQuietly(conn.Close)
	ch, err := conn.Channel()
	if err != nil {
		return services.Wrap(services.ErrTransient, "broker", "publish", "open channel", err)
	}
	defer closeQuietly(ch.Close)
	if err := declareTopology(ch, c.cfg.WorkQueue, c.cfg.RetryTTL); err != nil {
		return services.Wrap(services.ErrTransient, "broker", "publish", "declare topology", err)
	}
	err = ch.PublishWithContext(ctx, MainExchange, ProcessRoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, "broker", "publish", "publish job", err)
	}
	c.logger.Info("job published",
		logging.Int64(logging.FieldContentID, job.ContentID),
		logging.Int64(logging.FieldMediaID, job.MediaID),
	)
	return nil
}

// Ping opens and closes a connection.
func (c *Connector) Ping() error {
	conn, err := c.dial(c.cfg.URL, amqp.Config{Heartbeat: c.cfg.Heartbeat, Locale: "en_US"})
	if err != nil {
		return err
	}
	return conn.Close()
}

func closeReason(what string, amqpErr *amqp.Error) error {
	if amqpErr == nil {
		return fmt.Errorf("%s closed", what)
	}
	return fmt.Errorf("%s closed: %w", what, amqpErr)
}

func closeQuietly(closeFn func() error) {
	_ = closeFn()
}
