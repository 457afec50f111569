// Package rabbitmq publishes workflow transition events to a RabbitMQ topic
// exchange. Each event is sent as a persistent JSON message routed by its
// type, for example "docflow.stage.completed", and is confirmed by the broker.
package rabbitmq
