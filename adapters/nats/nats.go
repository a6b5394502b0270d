package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	cbus "github.com/parceltrack/parcel-platform/contract/bus"
	perr "github.com/parceltrack/parcel-platform/contract/errors"
	"github.com/parceltrack/parcel-platform/contract/event"
)

// Client is a minimal NATS-like publisher interface decoupled from any
// concrete library. Users can provide a wrapper around their NATS
// connection to satisfy this.
type Client interface {
	Publish(subject string, data []byte) error
}

// Adapter implements the bus Publisher contract on NATS subjects. Routing
// keys map 1:1 to subjects; the "package.*" binding pattern works
// unchanged because NATS token wildcards share the same syntax.
type Adapter struct {
	Client Client
}

var _ cbus.Publisher = (*Adapter)(nil)

func New(c Client) *Adapter { return &Adapter{Client: c} }

func (a *Adapter) Publish(ctx context.Context, routingKey string, env event.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Client == nil {
		return fmt.Errorf("nats publish %s: %w", routingKey, perr.ErrBrokerUnavailable)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("nats publish %s serialize: %w", routingKey, errors.Join(perr.ErrSerializationFailed, err))
	}

	if err := a.Client.Publish(routingKey, body); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("nats publish %s: %w", routingKey, errors.Join(perr.ErrPublishFailed, err))
	}

	return nil
}
