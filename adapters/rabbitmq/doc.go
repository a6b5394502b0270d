/*
Package rabbitmq provides the RabbitMQ adapter for the parcel event bus.
It maps publish and subscribe operations to AMQP against the parcel-events
topic exchange, with an auto-reconnect publisher and a backoff-bounded
consumer loop.
*/
package rabbitmq
