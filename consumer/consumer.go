package consumer

import (
	"context"
	"errors"
	"sync"

	cbus "github.com/parceltrack/parcel-platform/contract/bus"
	perr "github.com/parceltrack/parcel-platform/contract/errors"
	"github.com/parceltrack/parcel-platform/contract/event"
	"go.uber.org/zap"
)

// HandlerFunc applies one decoded event to the service's own store. It runs
// inside the consumer loop, one message at a time; the local mutation
// should be idempotent on a business key because redelivery is possible.
type HandlerFunc func(ctx context.Context, payload any) error

// Consumer maps incoming envelopes on one durable queue to local side
// effects with the acknowledgment discipline the choreography requires:
//
//   - malformed payload: reject without requeue, record, log a summary
//   - unknown or unhandled event type: acknowledge and ignore
//   - handler error: record in the needs-attention store, reject without
//     requeue, log
//   - handler success: acknowledge
//
// Dropped messages are never requeued; redelivery loops are worse than
// recorded loss.
type Consumer struct {
	mu  sync.RWMutex
	sub cbus.Subscription

	handlers map[string]HandlerFunc
	dead     DeadLetterStore
	log      *zap.Logger
}

func New(sub cbus.Subscription, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}

	return &Consumer{
		sub:      sub,
		handlers: make(map[string]HandlerFunc),
		log:      log.With(zap.String("queue", sub.Queue)),
	}
}

// On registers the handler for one (domain, event type) pair. Registering
// the same pair twice replaces the handler; consumers are wired once at
// startup.
func (c *Consumer) On(d event.Domain, t event.Type, h HandlerFunc) *Consumer {
	c.mu.Lock()
	c.handlers[event.RoutingKey(d, t)] = h
	c.mu.Unlock()

	return c
}

// WithDeadLetter routes failed messages into a needs-attention store before
// they are dropped, preserving observability over silent loss.
func (c *Consumer) WithDeadLetter(s DeadLetterStore) *Consumer {
	c.mu.Lock()
	c.dead = s
	c.mu.Unlock()

	return c
}

// Run subscribes and blocks for the service's lifetime. Start it once in
// its own goroutine at service startup; it returns when ctx is canceled or
// the subscriber gives up reconnecting.
func (c *Consumer) Run(ctx context.Context, bus cbus.Subscriber) error {
	return bus.Subscribe(ctx, c.sub, c.Handle)
}

// Handle is the per-message discipline. Exported so tests and in-memory
// wiring can drive it directly.
func (c *Consumer) Handle(ctx context.Context, d cbus.Delivery) cbus.Verdict {
	env, err := event.Parse(d.Body)
	if err != nil {
		c.log.Warn("malformed event dropped",
			zap.String("routing_key", d.RoutingKey),
			zap.String("payload", summarize(d.Body)),
			zap.Error(err))
		c.record(ctx, d, "malformed: "+err.Error())

		return cbus.Drop
	}

	payload, err := event.DecodePayload(d.RoutingKey, env)
	if err != nil {
		if errors.Is(err, perr.ErrUnknownEvent) {
			// Forward compatibility: never fail on event types this
			// consumer does not understand.
			c.log.Debug("unknown event type ignored", zap.String("routing_key", d.RoutingKey))
			return cbus.Ack
		}

		c.log.Warn("malformed event dropped",
			zap.String("routing_key", d.RoutingKey),
			zap.String("payload", summarize(d.Body)),
			zap.Error(err))
		c.record(ctx, d, "malformed: "+err.Error())

		return cbus.Drop
	}

	c.mu.RLock()
	h, ok := c.handlers[d.RoutingKey]
	c.mu.RUnlock()

	if !ok {
		return cbus.Ack
	}

	if err := h(ctx, payload); err != nil {
		c.log.Error("event handler failed",
			zap.String("routing_key", d.RoutingKey),
			zap.Error(errors.Join(perr.ErrHandlerFailure, err)))
		c.record(ctx, d, "handler: "+err.Error())

		return cbus.Drop
	}

	return cbus.Ack
}

func (c *Consumer) record(ctx context.Context, d cbus.Delivery, reason string) {
	c.mu.RLock()
	dead := c.dead
	c.mu.RUnlock()

	if dead == nil {
		return
	}

	if err := dead.Record(ctx, DeadLetter{
		Queue:      c.sub.Queue,
		RoutingKey: d.RoutingKey,
		Reason:     reason,
		Body:       string(d.Body),
	}); err != nil {
		c.log.Error("dead letter record failed", zap.Error(err))
	}
}

const summaryLimit = 256

func summarize(body []byte) string {
	if len(body) <= summaryLimit {
		return string(body)
	}

	return string(body[:summaryLimit]) + "..."
}
