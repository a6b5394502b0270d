package event_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	perr "github.com/parceltrack/parcel-platform/contract/errors"
	"github.com/parceltrack/parcel-platform/contract/event"
)

func TestRoutingKeys(t *testing.T) {
	tests := []struct {
		d    event.Domain
		ty   event.Type
		want string
	}{
		{event.DomainPackage, event.TypeCreated, "package.created"},
		{event.DomainPackage, event.TypeStatusUpdated, "package.status_updated"},
		{event.DomainDelivery, event.TypeCreated, "delivery.created"},
		{event.DomainDelivery, event.TypeAssigned, "delivery.assigned"},
		{event.DomainDelivery, event.TypeStatusUpdated, "delivery.status_updated"},
		{event.DomainUser, event.TypeCreated, "user.created"},
	}

	for _, tc := range tests {
		if got := event.RoutingKey(tc.d, tc.ty); got != tc.want {
			t.Fatalf("routing key %s/%s: got %q want %q", tc.d, tc.ty, got, tc.want)
		}
	}
}

func TestSplitRoutingKey(t *testing.T) {
	d, ty, err := event.SplitRoutingKey("package.status_updated")
	if err != nil || d != event.DomainPackage || ty != event.TypeStatusUpdated {
		t.Fatalf("split: %v %v %v", d, ty, err)
	}

	for _, bad := range []string{"", "package", ".created", "package."} {
		if _, _, err := event.SplitRoutingKey(bad); !errors.Is(err, perr.ErrMalformedEvent) {
			t.Fatalf("split %q: want ErrMalformedEvent, got %v", bad, err)
		}
	}
}

func TestNewEnvelope(t *testing.T) {
	env, err := event.New(event.TypeCreated, event.PackageCreated{ID: "PKG-1", SenderAddress: "A", RecipientAddress: "B"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if env.EventType != event.TypeCreated {
		t.Fatalf("event type: %s", env.EventType)
	}

	if env.Timestamp.Location() != time.UTC {
		t.Fatalf("timestamp not UTC: %v", env.Timestamp)
	}

	var got map[string]any
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("data: %v", err)
	}

	if got["id"] != "PKG-1" || got["sender_address"] != "A" {
		t.Fatalf("data=%v", got)
	}
}

func TestParse(t *testing.T) {
	body := []byte(`{"event_type":"created","timestamp":"2026-01-02T03:04:05Z","data":{"id":"PKG-1","sender_address":"A","recipient_address":"B"}}`)

	env, err := event.Parse(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if env.EventType != event.TypeCreated {
		t.Fatalf("event type: %s", env.EventType)
	}

	if _, err := event.Parse([]byte(`not json`)); !errors.Is(err, perr.ErrMalformedEvent) {
		t.Fatalf("want ErrMalformedEvent, got %v", err)
	}

	if _, err := event.Parse([]byte(`{"timestamp":"2026-01-02T03:04:05Z","data":{}}`)); !errors.Is(err, perr.ErrMalformedEvent) {
		t.Fatalf("missing event_type: want ErrMalformedEvent, got %v", err)
	}
}

func TestDecodePayload(t *testing.T) {
	env, _ := event.New(event.TypeCreated, event.PackageCreated{ID: "PKG-1", SenderAddress: "A", RecipientAddress: "B"})

	v, err := event.DecodePayload("package.created", env)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	p, ok := v.(event.PackageCreated)
	if !ok || p.ID != "PKG-1" || p.SenderAddress != "A" || p.RecipientAddress != "B" {
		t.Fatalf("payload=%+v", v)
	}
}

func TestDecodePayload_UnknownType(t *testing.T) {
	env, _ := event.New(event.Type("archived"), map[string]any{"id": "PKG-1"})

	if _, err := event.DecodePayload("package.archived", env); !errors.Is(err, perr.ErrUnknownEvent) {
		t.Fatalf("want ErrUnknownEvent, got %v", err)
	}
}

func TestDecodePayload_MissingFields(t *testing.T) {
	env, _ := event.New(event.TypeCreated, map[string]any{"id": "PKG-1"})

	if _, err := event.DecodePayload("package.created", env); !errors.Is(err, perr.ErrMalformedEvent) {
		t.Fatalf("want ErrMalformedEvent, got %v", err)
	}
}

func TestDecodePayload_AllTypes(t *testing.T) {
	tests := []struct {
		key     string
		payload any
	}{
		{"package.status_updated", event.PackageStatusUpdated{PackageID: "PKG-1", OldStatus: "created", NewStatus: "in_transit"}},
		{"delivery.created", event.DeliveryCreated{ID: "DLV-1", PackageID: "PKG-1", Status: "pending"}},
		{"delivery.assigned", event.DeliveryAssigned{ID: "DLV-1", PackageID: "PKG-1", DriverID: "USR-9"}},
		{"delivery.status_updated", event.DeliveryStatusUpdated{DeliveryID: "DLV-1", PackageID: "PKG-1", OldStatus: "pending", NewStatus: "delivered"}},
		{"user.created", event.UserCreated{ID: "USR-1", Email: "a@b.c", UserType: "customer"}},
	}

	for _, tc := range tests {
		_, ty, _ := event.SplitRoutingKey(tc.key)

		env, err := event.New(ty, tc.payload)
		if err != nil {
			t.Fatalf("new %s: %v", tc.key, err)
		}

		if _, err := event.DecodePayload(tc.key, env); err != nil {
			t.Fatalf("decode %s: %v", tc.key, err)
		}
	}
}
