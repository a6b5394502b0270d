package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	cbus "github.com/parceltrack/parcel-platform/contract/bus"
	perr "github.com/parceltrack/parcel-platform/contract/errors"
)

// Concrete NATS connection-backed Client, Subscriber, and constructor.

type Config struct {
	URL           string
	Name          string
	ConnTimeout   time.Duration
	MaxReconnects int
}

type natsClient struct{ nc *nats.Conn }

func (c natsClient) Publish(subject string, data []byte) error {
	if err := c.nc.Publish(subject, data); err != nil {
		return err
	}

	return c.nc.Flush()
}

// Subscriber delivers matching messages through a queue group named after
// the durable queue, so instances of the same service load-balance while
// distinct services fan out. Core NATS has no broker-side acknowledgment;
// the handler verdict still drives the consumer's dead-letter path.
type Subscriber struct {
	nc *nats.Conn
}

var _ cbus.Subscriber = (*Subscriber)(nil)

func NewSubscriber(nc *nats.Conn) *Subscriber { return &Subscriber{nc: nc} }

func (s *Subscriber) Subscribe(ctx context.Context, sub cbus.Subscription, h cbus.Handler) error {
	if sub.Queue == "" || sub.Pattern == "" {
		return fmt.Errorf("nats subscribe: queue and pattern required: %w", perr.ErrSubscribeFailed)
	}

	msgs := make(chan *nats.Msg, 64)

	ns, err := s.nc.ChanQueueSubscribe(sub.Pattern, sub.Queue, msgs)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", sub.Pattern, errors.Join(perr.ErrSubscribeFailed, err))
	}
	defer func() { _ = ns.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-msgs:
			_ = h(ctx, cbus.Delivery{RoutingKey: m.Subject, Body: m.Data})
		}
	}
}

// NewWithNATS creates a real NATS connection and returns the publisher
// Adapter, a Subscriber sharing the connection, and a cleanup.
func NewWithNATS(cfg Config) (*Adapter, *Subscriber, func(), error) {
	if cfg.URL == "" {
		return nil, nil, nil, fmt.Errorf("%w: nats url required", perr.ErrBrokerUnavailable)
	}

	opts := []nats.Option{}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: nats connect: %w", perr.ErrBrokerUnavailable, err)
	}

	cleanup := func() {
		if nc != nil && !nc.IsClosed() {
			_ = nc.Drain() //nolint:errcheck // best-effort shutdown; cannot return error here
			nc.Close()
		}
	}

	return New(natsClient{nc: nc}), NewSubscriber(nc), cleanup, nil
}
