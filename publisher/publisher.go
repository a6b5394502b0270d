package publisher

import (
	"context"

	cbus "github.com/parceltrack/parcel-platform/contract/bus"
	"github.com/parceltrack/parcel-platform/contract/event"
	"go.uber.org/zap"
)

// Outbound wraps a committed domain mutation with a best-effort event
// emission for one owning domain. Emit must be called after the local
// transaction commits, never inside it: a publish failure is logged and
// swallowed so it can never mask a successful write. That asymmetry is the
// at-least-once, eventually-consistent trade-off the choreography rests on.
type Outbound struct {
	domain event.Domain
	bus    cbus.Publisher
	log    *zap.Logger
}

func NewOutbound(domain event.Domain, bus cbus.Publisher, log *zap.Logger) *Outbound {
	if log == nil {
		log = zap.NewNop()
	}

	return &Outbound{domain: domain, bus: bus, log: log}
}

// Emit constructs an envelope with the current UTC timestamp, derives the
// routing key from the owning domain, and publishes. Never returns an
// error; the caller's write already stands.
func (o *Outbound) Emit(ctx context.Context, t event.Type, payload any) {
	key := event.RoutingKey(o.domain, t)

	env, err := event.New(t, payload)
	if err != nil {
		o.log.Error("event serialization failed",
			zap.String("routing_key", key),
			zap.Error(err))
		return
	}

	if err := o.bus.Publish(ctx, key, env); err != nil {
		o.log.Error("event publish failed",
			zap.String("routing_key", key),
			zap.Error(err))
		return
	}

	o.log.Info("event published", zap.String("routing_key", key))
}
