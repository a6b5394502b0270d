package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	cbus "github.com/parceltrack/parcel-platform/contract/bus"
	perr "github.com/parceltrack/parcel-platform/contract/errors"
	"github.com/parceltrack/parcel-platform/contract/event"
)

// Writer is a minimal Kafka-like writer interface.
// Users can adapt segmentio/kafka-go or any other client to this.
type Writer interface {
	Write(topic string, key, value []byte) error
}

// Adapter implements the bus Publisher contract on Kafka topics. The
// routing key becomes the topic name (dots intact) and the record key, so
// events for one routing key stay ordered within a partition.
//
// Kafka has no topic-pattern bindings, so this adapter is publish-only;
// mirroring events into Kafka serves downstream analytics rather than the
// service choreography itself.
type Adapter struct {
	Writer Writer
}

var _ cbus.Publisher = (*Adapter)(nil)

func New(w Writer) *Adapter { return &Adapter{Writer: w} }

func (a *Adapter) Publish(ctx context.Context, routingKey string, env event.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Writer == nil {
		return fmt.Errorf("kafka publish %s: %w", routingKey, perr.ErrBrokerUnavailable)
	}

	val, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("kafka publish %s serialize: %w", routingKey, errors.Join(perr.ErrSerializationFailed, err))
	}

	if err := a.Writer.Write(routingKey, []byte(routingKey), val); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("kafka publish %s write: %w", routingKey, errors.Join(perr.ErrPublishFailed, err))
	}

	return nil
}
