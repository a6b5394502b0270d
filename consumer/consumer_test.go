package consumer_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/parceltrack/parcel-platform/adapters/inmemory"
	"github.com/parceltrack/parcel-platform/consumer"
	cbus "github.com/parceltrack/parcel-platform/contract/bus"
	"github.com/parceltrack/parcel-platform/contract/event"
)

func packageCreatedBody(t *testing.T, id string) []byte {
	t.Helper()

	env, err := event.New(event.TypeCreated, event.PackageCreated{ID: id, SenderAddress: "A", RecipientAddress: "B"})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}

	body, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	return body
}

func newConsumer() *consumer.Consumer {
	return consumer.New(cbus.Subscription{Queue: "delivery_service_queue", Pattern: "package.*"}, nil)
}

func TestHandle_SuccessAcks(t *testing.T) {
	var seen []event.PackageCreated

	c := newConsumer().On(event.DomainPackage, event.TypeCreated, func(ctx context.Context, payload any) error {
		seen = append(seen, payload.(event.PackageCreated))
		return nil
	})

	v := c.Handle(t.Context(), cbus.Delivery{RoutingKey: "package.created", Body: packageCreatedBody(t, "PKG-1")})
	if v != cbus.Ack {
		t.Fatalf("verdict=%v", v)
	}

	if len(seen) != 1 || seen[0].ID != "PKG-1" {
		t.Fatalf("seen=%v", seen)
	}
}

func TestHandle_MalformedDropsAndRecords(t *testing.T) {
	dead := &consumer.MemoryDeadLetterStore{}
	c := newConsumer().WithDeadLetter(dead)

	v := c.Handle(t.Context(), cbus.Delivery{RoutingKey: "package.created", Body: []byte(`{{not json`)})
	if v != cbus.Drop {
		t.Fatalf("verdict=%v", v)
	}

	if len(dead.Letters) != 1 || dead.Letters[0].RoutingKey != "package.created" {
		t.Fatalf("dead=%v", dead.Letters)
	}
}

func TestHandle_MissingFieldsDrop(t *testing.T) {
	c := newConsumer().On(event.DomainPackage, event.TypeCreated, func(ctx context.Context, payload any) error {
		t.Fatal("handler must not run for invalid payloads")
		return nil
	})

	env, _ := event.New(event.TypeCreated, map[string]string{"id": "PKG-1"}) // no addresses
	body, _ := json.Marshal(env)

	if v := c.Handle(t.Context(), cbus.Delivery{RoutingKey: "package.created", Body: body}); v != cbus.Drop {
		t.Fatalf("verdict=%v", v)
	}
}

func TestHandle_UnknownTypeAcked(t *testing.T) {
	dead := &consumer.MemoryDeadLetterStore{}
	c := newConsumer().WithDeadLetter(dead)

	env, _ := event.New(event.Type("archived"), map[string]string{"id": "PKG-1"})
	body, _ := json.Marshal(env)

	if v := c.Handle(t.Context(), cbus.Delivery{RoutingKey: "package.archived", Body: body}); v != cbus.Ack {
		t.Fatalf("unknown type must be acked, verdict=%v", v)
	}

	if len(dead.Letters) != 0 {
		t.Fatalf("unknown types are not failures: %v", dead.Letters)
	}
}

func TestHandle_UnregisteredTypeAcked(t *testing.T) {
	// Valid event, no handler bound: ack and ignore.
	c := newConsumer()

	v := c.Handle(t.Context(), cbus.Delivery{RoutingKey: "package.created", Body: packageCreatedBody(t, "PKG-1")})
	if v != cbus.Ack {
		t.Fatalf("verdict=%v", v)
	}
}

func TestHandle_HandlerFailureDropsAndRecords(t *testing.T) {
	dead := &consumer.MemoryDeadLetterStore{}

	c := newConsumer().WithDeadLetter(dead).On(event.DomainPackage, event.TypeCreated, func(ctx context.Context, payload any) error {
		return errors.New("constraint violation")
	})

	if v := c.Handle(t.Context(), cbus.Delivery{RoutingKey: "package.created", Body: packageCreatedBody(t, "PKG-1")}); v != cbus.Drop {
		t.Fatalf("verdict=%v", v)
	}

	if len(dead.Letters) != 1 {
		t.Fatalf("dead=%v", dead.Letters)
	}
}

// A malformed payload on the queue must not block subsequent valid
// messages.
func TestMalformedMessageIsolation(t *testing.T) {
	bus := inmemory.New()

	var seen []string

	c := newConsumer().On(event.DomainPackage, event.TypeCreated, func(ctx context.Context, payload any) error {
		seen = append(seen, payload.(event.PackageCreated).ID)
		return nil
	})

	bus.Bind(cbus.Subscription{Queue: "delivery_service_queue", Pattern: "package.*"}, c.Handle)

	_ = bus.Inject(t.Context(), "package.created", []byte(`garbage`))
	_ = bus.Inject(t.Context(), "package.created", packageCreatedBody(t, "PKG-2"))

	if len(seen) != 1 || seen[0] != "PKG-2" {
		t.Fatalf("seen=%v", seen)
	}

	got := bus.Verdicts["delivery_service_queue"]
	if len(got) != 2 || got[0] != cbus.Drop || got[1] != cbus.Ack {
		t.Fatalf("verdicts=%v", got)
	}
}
