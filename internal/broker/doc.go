// Package broker owns the RabbitMQ side of the worker: it declares the fixed
// exchange and queue topology, consumes the work queue with manual
// acknowledgements, and keeps reconnecting until its context is cancelled.
//
// Retries are delegated to the broker itself. A negatively acknowledged
// message is dead-lettered to a retry queue whose TTL routes it back to the
// work queue; DeathCount reads the resulting x-death history.
package broker
