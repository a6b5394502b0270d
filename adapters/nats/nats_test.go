package nats_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/parceltrack/parcel-platform/adapters/nats"
	perr "github.com/parceltrack/parcel-platform/contract/errors"
	"github.com/parceltrack/parcel-platform/contract/event"
)

type fakeClient struct {
	subjects []string
	bodies   [][]byte
	err      error
}

func (f *fakeClient) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, data)

	return f.err
}

func TestPublish_SubjectIsRoutingKey(t *testing.T) {
	fc := &fakeClient{}
	ad := nats.New(fc)

	env, _ := event.New(event.TypeAssigned, event.DeliveryAssigned{ID: "DLV-1", PackageID: "PKG-1", DriverID: "USR-9"})
	if err := ad.Publish(t.Context(), "delivery.assigned", env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(fc.subjects) != 1 || fc.subjects[0] != "delivery.assigned" {
		t.Fatalf("subjects=%v", fc.subjects)
	}

	var got event.Envelope
	if err := json.Unmarshal(fc.bodies[0], &got); err != nil {
		t.Fatalf("body: %v", err)
	}

	if got.EventType != event.TypeAssigned {
		t.Fatalf("event type: %s", got.EventType)
	}
}

func TestPublish_NoClient(t *testing.T) {
	ad := nats.New(nil)

	env, _ := event.New(event.TypeCreated, event.UserCreated{ID: "USR-1", Email: "a@b.c"})
	if err := ad.Publish(t.Context(), "user.created", env); !errors.Is(err, perr.ErrBrokerUnavailable) {
		t.Fatalf("want ErrBrokerUnavailable, got %v", err)
	}
}

func TestPublish_WrapsClientError(t *testing.T) {
	fc := &fakeClient{err: errors.New("no route")}
	ad := nats.New(fc)

	env, _ := event.New(event.TypeCreated, event.UserCreated{ID: "USR-1", Email: "a@b.c"})
	if err := ad.Publish(t.Context(), "user.created", env); !errors.Is(err, perr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}
}

func TestPublish_CanceledContext(t *testing.T) {
	fc := &fakeClient{}
	ad := nats.New(fc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	env, _ := event.New(event.TypeCreated, event.UserCreated{ID: "USR-1", Email: "a@b.c"})
	if err := ad.Publish(ctx, "user.created", env); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}

	if len(fc.subjects) != 0 {
		t.Fatalf("client should not be called")
	}
}
