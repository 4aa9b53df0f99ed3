package broker

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Fixed topology names.
const (
	MainExchange       = "casiel_main_exchange"
	DeadLetterExchange = "casiel_dlx"
	RetryQueue         = "casiel_audio_retry_queue"
	FinalQueue         = "casiel_audio_dlq"

	ProcessRoutingKey = "casiel.process"
	RetryRoutingKey   = "casiel.dlq.retry"
	FinalRoutingKey   = "casiel.dlq.final"
)

// DefaultRetryTTL is how long a rejected message waits before redelivery.
const DefaultRetryTTL = 60 * time.Second

// declareTopology declares every exchange, queue, and binding. Declarations
// are idempotent, so each session repeats them.
func declareTopology(ch Channel, workQueue string, retryTTL time.Duration) error {
	for _, exchange := range []string{MainExchange, DeadLetterExchange} {
		if err := ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
	}

	if retryTTL <= 0 {
		retryTTL = DefaultRetryTTL
	}
	queues := []struct {
		name     string
		args     amqp.Table
		exchange string
		key      string
	}{
		{FinalQueue, nil, DeadLetterExchange, FinalRoutingKey},
		{RetryQueue, amqp.Table{
			"x-message-ttl":             retryTTL.Milliseconds(),
			"x-dead-letter-exchange":    MainExchange,
			"x-dead-letter-routing-key": ProcessRoutingKey,
		}, DeadLetterExchange, RetryRoutingKey},
		{workQueue, amqp.Table{
			"x-dead-letter-exchange":    DeadLetterExchange,
			"x-dead-letter-routing-key": RetryRoutingKey,
		}, MainExchange, ProcessRoutingKey},
	}
	for _, q := range queues {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
		if err := ch.QueueBind(q.name, q.key, q.exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", q.name, err)
		}
	}
	return nil
}
