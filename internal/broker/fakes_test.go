package broker_test

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"casiel/internal/broker"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type declaredQueue struct {
	name string
	args amqp.Table
}

type binding struct {
	queue    string
	key      string
	exchange string
}

type fakeChannel struct {
	mu         sync.Mutex
	exchanges  []string
	queues     []declaredQueue
	bindings   []binding
	prefetch   int
	acks       []uint64
	nacks      []uint64
	requeued   []bool
	published  []published
	closed     bool
	publishErr error
	deliveries chan amqp.Delivery
	closeNotes []chan *amqp.Error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 8)}
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges = append(c.exchanges, name)
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues = append(c.queues, declaredQueue{name: name, args: args})
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings = append(c.bindings, binding{queue: name, key: key, exchange: exchange})
	return nil
}

func (c *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefetch = prefetchCount
	return nil
}

func (c *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if autoAck {
		return nil, errors.New("auto ack not expected")
	}
	return c.deliveries, nil
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Ack(tag uint64, multiple bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acks = append(c.acks, tag)
	return nil
}

func (c *fakeChannel) Nack(tag uint64, multiple, requeue bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nacks = append(c.nacks, tag)
	c.requeued = append(c.requeued, requeue)
	return nil
}

func (c *fakeChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeNotes = append(c.closeNotes, receiver)
	return receiver
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) ackCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.acks)
}

type fakeConn struct {
	mu         sync.Mutex
	ch         *fakeChannel
	closed     bool
	closeNotes []chan *amqp.Error
}

func (c *fakeConn) Channel() (broker.Channel, error) {
	return c.ch, nil
}

func (c *fakeConn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeNotes = append(c.closeNotes, receiver)
	return receiver
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// drop simulates the server closing the connection.
func (c *fakeConn) drop() {
	c.mu.Lock()
	notes := c.closeNotes
	c.closed = true
	c.mu.Unlock()
	for _, note := range notes {
		note <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "forced"}
	}
}

// fakeDialer hands out queued connections and errors in order.
type fakeDialer struct {
	mu      sync.Mutex
	results []any
	dials   int
	configs []amqp.Config
	dialed  chan *fakeConn
}

func newFakeDialer(results ...any) *fakeDialer {
	return &fakeDialer{results: results, dialed: make(chan *fakeConn, 8)}
}

func (d *fakeDialer) dial(url string, cfg amqp.Config) (broker.Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.configs = append(d.configs, cfg)
	if len(d.results) == 0 {
		return nil, errors.New("no more connections")
	}
	next := d.results[0]
	d.results = d.results[1:]
	switch v := next.(type) {
	case error:
		return nil, v
	case *fakeConn:
		d.dialed <- v
		return v, nil
	default:
		panic("unexpected dial result")
	}
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
