package inmemory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	cbus "github.com/parceltrack/parcel-platform/contract/bus"
	perr "github.com/parceltrack/parcel-platform/contract/errors"
	"github.com/parceltrack/parcel-platform/contract/event"
)

// Bus is an in-process topic exchange with the same matching semantics as
// the broker: queues bound to wildcard patterns each get an independent
// copy of every matching message, while subscribers sharing a queue
// load-balance round-robin. Delivery is synchronous with the publisher.
//
// Used by tests and local development in place of RabbitMQ.
type Bus struct {
	mu     sync.Mutex
	queues map[string]*queue

	// Published records every routed message for assertions.
	Published []Published
	// Verdicts records handler outcomes per queue.
	Verdicts map[string][]cbus.Verdict
}

// Published is one routed message as seen by the exchange.
type Published struct {
	RoutingKey string
	Body       []byte
}

type queue struct {
	patterns []string
	handlers []cbus.Handler
	next     int
}

var _ cbus.Bus = (*Bus)(nil)

func New() *Bus {
	return &Bus{
		queues:   make(map[string]*queue),
		Verdicts: make(map[string][]cbus.Verdict),
	}
}

func (b *Bus) Publish(ctx context.Context, routingKey string, env event.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("inmemory publish %s: %w", routingKey, perr.ErrSerializationFailed)
	}

	return b.Inject(ctx, routingKey, body)
}

// Inject routes a raw body, bypassing envelope serialization. Tests use it
// to put malformed payloads on a queue.
func (b *Bus) Inject(ctx context.Context, routingKey string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	b.Published = append(b.Published, Published{RoutingKey: routingKey, Body: body})

	type target struct {
		name string
		h    cbus.Handler
	}

	var targets []target
	for name, q := range b.queues {
		if len(q.handlers) == 0 || !matches(q.patterns, routingKey) {
			continue
		}
		// round-robin within the queue
		h := q.handlers[q.next%len(q.handlers)]
		q.next++
		targets = append(targets, target{name: name, h: h})
	}
	b.mu.Unlock()

	for _, tg := range targets {
		v := tg.h(ctx, cbus.Delivery{RoutingKey: routingKey, Body: body})

		b.mu.Lock()
		b.Verdicts[tg.name] = append(b.Verdicts[tg.name], v)
		b.mu.Unlock()
	}

	return nil
}

// Subscribe binds the queue and blocks until ctx is canceled, matching the
// broker-backed adapters' contract.
func (b *Bus) Subscribe(ctx context.Context, sub cbus.Subscription, h cbus.Handler) error {
	if sub.Queue == "" || sub.Pattern == "" {
		return fmt.Errorf("inmemory subscribe: queue and pattern required: %w", perr.ErrSubscribeFailed)
	}

	b.Bind(sub, h)

	<-ctx.Done()

	return ctx.Err()
}

// Bind registers without blocking. Tests that drive Publish directly use
// this instead of Subscribe.
func (b *Bus) Bind(sub cbus.Subscription, h cbus.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[sub.Queue]
	if !ok {
		q = &queue{}
		b.queues[sub.Queue] = q
	}

	q.handlers = append(q.handlers, h)
	for _, p := range q.patterns {
		if p == sub.Pattern {
			return
		}
	}
	q.patterns = append(q.patterns, sub.Pattern)
}

// matches reports whether any bound pattern matches the routing key.
// "*" matches exactly one dot-separated token, "#" matches the remainder.
func matches(patterns []string, key string) bool {
	for _, p := range patterns {
		if matchPattern(p, key) {
			return true
		}
	}

	return false
}

func matchPattern(pattern, key string) bool {
	pt := strings.Split(pattern, ".")
	kt := strings.Split(key, ".")

	for i, seg := range pt {
		if seg == "#" {
			return true
		}

		if i >= len(kt) {
			return false
		}

		if seg != "*" && seg != kt[i] {
			return false
		}
	}

	return len(pt) == len(kt)
}
