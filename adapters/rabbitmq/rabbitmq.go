package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	cbus "github.com/parceltrack/parcel-platform/contract/bus"
	perr "github.com/parceltrack/parcel-platform/contract/errors"
	"github.com/parceltrack/parcel-platform/contract/event"
	amqp "github.com/rabbitmq/amqp091-go"
)

// PubMsg is one outgoing AMQP message.
type PubMsg struct {
	Exchange   string
	RoutingKey string
	Body       []byte
}

// Publisher is the minimal AMQP publish surface the adapter needs.
// Tests inject fakes; production wraps a channel or the reconnecting
// publisher from this package.
type Publisher interface {
	Publish(ctx context.Context, m PubMsg) error
}

// Adapter maps the bus Publisher contract onto AMQP. All envelopes go to
// the parcel-events topic exchange under the caller's routing key.
type Adapter struct {
	Publisher Publisher
}

var _ cbus.Publisher = (*Adapter)(nil)

func New(p Publisher) *Adapter { return &Adapter{Publisher: p} }

func (a *Adapter) Publish(ctx context.Context, routingKey string, env event.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Publisher == nil {
		return fmt.Errorf("rabbitmq publish %s: %w", routingKey, perr.ErrBrokerUnavailable)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("rabbitmq publish %s serialize: %w", routingKey, errors.Join(perr.ErrSerializationFailed, err))
	}

	msg := PubMsg{
		Exchange:   event.Exchange,
		RoutingKey: routingKey,
		Body:       body,
	}

	if err := a.Publisher.Publish(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq publish %s: %w", routingKey, errors.Join(perr.ErrPublishFailed, err))
	}

	return nil
}

type amqpChannelPublisher struct{ ch *amqp.Channel }

func (p amqpChannelPublisher) Publish(ctx context.Context, m PubMsg) error {
	return p.ch.PublishWithContext(
		ctx,
		m.Exchange,
		m.RoutingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         m.Body,
		},
	)
}

// NewWithAMQPChannel wraps an existing channel. The caller owns the channel
// lifecycle and must have declared the exchange.
func NewWithAMQPChannel(ch *amqp.Channel) *Adapter {
	return &Adapter{Publisher: amqpChannelPublisher{ch: ch}}
}
