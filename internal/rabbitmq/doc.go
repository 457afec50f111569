// Package rabbitmq holds the AMQP plumbing behind the workflow event publisher:
// a reconnecting connection manager, a channel pool, a publisher that waits for
// broker confirms, and declaration of the events exchange and audit queue.
package rabbitmq
