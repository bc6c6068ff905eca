// Package rabbitmq manages the AMQP connection behind the RabbitMQ channel.
//
// This package includes:
//   - ConnectionManager: keeps one connection open and reconnects after failures
//   - ConnectionStateListener: notifications used to resubscribe after a reconnect
//   - Queue declarations for the inbound and outbound queues of a bridge
package rabbitmq
