package rabbitmq_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/parceltrack/parcel-platform/adapters/rabbitmq"
	perr "github.com/parceltrack/parcel-platform/contract/errors"
	"github.com/parceltrack/parcel-platform/contract/event"
)

type fakePublisher struct {
	calls []rabbitmq.PubMsg
	err   error
}

func (f *fakePublisher) Publish(ctx context.Context, m rabbitmq.PubMsg) error {
	_ = ctx
	f.calls = append(f.calls, m)

	return f.err
}

func TestPublish_ExchangeAndRoutingKey(t *testing.T) {
	fp := &fakePublisher{}
	ad := rabbitmq.New(fp)

	env, _ := event.New(event.TypeCreated, event.PackageCreated{ID: "PKG-1", SenderAddress: "A", RecipientAddress: "B"})
	if err := ad.Publish(t.Context(), "package.created", env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(fp.calls) != 1 {
		t.Fatalf("want 1 call, got %d", len(fp.calls))
	}

	m := fp.calls[0]
	if m.Exchange != "parcel_events" || m.RoutingKey != "package.created" {
		t.Fatalf("exchange=%q key=%q", m.Exchange, m.RoutingKey)
	}

	var got event.Envelope
	if err := json.Unmarshal(m.Body, &got); err != nil {
		t.Fatalf("body: %v", err)
	}

	if got.EventType != event.TypeCreated {
		t.Fatalf("event type: %s", got.EventType)
	}
}

func TestPublish_NoPublisher(t *testing.T) {
	ad := rabbitmq.New(nil)

	env, _ := event.New(event.TypeCreated, event.PackageCreated{ID: "PKG-1", SenderAddress: "A", RecipientAddress: "B"})
	if err := ad.Publish(t.Context(), "package.created", env); !errors.Is(err, perr.ErrBrokerUnavailable) {
		t.Fatalf("want ErrBrokerUnavailable, got %v", err)
	}
}

func TestPublish_WrapsPublisherError(t *testing.T) {
	fp := &fakePublisher{err: errors.New("socket gone")}
	ad := rabbitmq.New(fp)

	env, _ := event.New(event.TypeCreated, event.PackageCreated{ID: "PKG-1", SenderAddress: "A", RecipientAddress: "B"})

	err := ad.Publish(t.Context(), "package.created", env)
	if !errors.Is(err, perr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}
}

func TestPublish_CanceledContext(t *testing.T) {
	fp := &fakePublisher{}
	ad := rabbitmq.New(fp)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	env, _ := event.New(event.TypeCreated, event.PackageCreated{ID: "PKG-1", SenderAddress: "A", RecipientAddress: "B"})
	if err := ad.Publish(ctx, "package.created", env); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}

	if len(fp.calls) != 0 {
		t.Fatalf("publisher should not be called, got %d", len(fp.calls))
	}
}

func TestNewWithAMQPConn_RequiresURL(t *testing.T) {
	if _, _, err := rabbitmq.NewWithAMQPConn(rabbitmq.Config{}); !errors.Is(err, perr.ErrBrokerUnavailable) {
		t.Fatalf("want ErrBrokerUnavailable, got %v", err)
	}
}
