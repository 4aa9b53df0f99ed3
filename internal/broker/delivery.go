package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Delivery is one consumed message together with the channel it arrived on.
type Delivery interface {
	Body() []byte
	Headers() amqp.Table
	MessageID() string
	Ack() error
	Nack(requeue bool) error
	// PublishFinal copies the message to the final dead-letter queue.
	PublishFinal(ctx context.Context) error
}

type delivery struct {
	ch  Channel
	raw amqp.Delivery
}

func (d *delivery) Body() []byte        { return d.raw.Body }
func (d *delivery) Headers() amqp.Table { return d.raw.Headers }
func (d *delivery) MessageID() string   { return d.raw.MessageId }

func (d *delivery) Ack() error {
	if err := d.ch.Ack(d.raw.DeliveryTag, false); err != nil {
		return fmt.Errorf("ack delivery %d: %w", d.raw.DeliveryTag, err)
	}
	return nil
}

func (d *delivery) Nack(requeue bool) error {
	if err := d.ch.Nack(d.raw.DeliveryTag, false, requeue); err != nil {
		return fmt.Errorf("nack delivery %d: %w", d.raw.DeliveryTag, err)
	}
	return nil
}

func (d *delivery) PublishFinal(ctx context.Context) error {
	err := d.ch.PublishWithContext(ctx, DeadLetterExchange, FinalRoutingKey, false, false, amqp.Publishing{
		Headers:      d.raw.Headers,
		ContentType:  d.raw.ContentType,
		MessageId:    d.raw.MessageId,
		DeliveryMode: amqp.Persistent,
		Body:         d.raw.Body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", FinalQueue, err)
	}
	return nil
}
