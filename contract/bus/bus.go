package bus

import (
	"context"

	"github.com/parceltrack/parcel-platform/contract/event"
)

// Publisher abstracts publishing an envelope to the parcel-events topic
// exchange under a routing key. Library users provide an implementation
// backed by their broker (RabbitMQ, NATS, in-memory, etc.).
//
// Publish is best-effort from the caller's point of view: a failure must
// never be allowed to affect the domain write that triggered it.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, env event.Envelope) error
}

// Subscriber opens a long-lived subscription: it declares the exchange,
// declares the durable named queue, binds it to the pattern, and blocks
// delivering messages to the handler one at a time until ctx is canceled
// or the connection is lost beyond recovery.
//
// Multiple services binding independently named queues to the same pattern
// each receive a copy of every matching event; multiple instances of the
// same service sharing one queue load-balance.
type Subscriber interface {
	Subscribe(ctx context.Context, sub Subscription, h Handler) error
}

// Bus combines both capabilities. Adapters that only publish (e.g. Kafka)
// implement Publisher alone.
type Bus interface {
	Publisher
	Subscriber
}

// Subscription names the durable queue a consumer owns and the topic
// pattern it binds with ("package.*" and the like).
type Subscription struct {
	Queue   string
	Pattern string
}

// Delivery is one received message before envelope parsing.
type Delivery struct {
	RoutingKey string
	Body       []byte
}

// Verdict is the acknowledgment decision for a processed delivery.
type Verdict int

const (
	// Ack acknowledges the message positively.
	Ack Verdict = iota
	// Drop rejects the message without requeue. Used for poison messages
	// and failed handlers; redelivery loops are never acceptable.
	Drop
)

// Handler processes one delivery and decides its acknowledgment.
// Implementations must not panic; a returned Drop is terminal for the
// message on this queue.
type Handler func(ctx context.Context, d Delivery) Verdict
