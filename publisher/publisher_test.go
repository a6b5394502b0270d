package publisher_test

import (
	"context"
	"errors"
	"testing"

	"github.com/parceltrack/parcel-platform/contract/event"
	"github.com/parceltrack/parcel-platform/publisher"
)

type recordingBus struct {
	keys []string
	envs []event.Envelope
	err  error
}

func (r *recordingBus) Publish(ctx context.Context, routingKey string, env event.Envelope) error {
	r.keys = append(r.keys, routingKey)
	r.envs = append(r.envs, env)

	return r.err
}

func TestEmit_RoutingKeyFromDomain(t *testing.T) {
	tests := []struct {
		domain event.Domain
		ty     event.Type
		want   string
	}{
		{event.DomainPackage, event.TypeCreated, "package.created"},
		{event.DomainPackage, event.TypeStatusUpdated, "package.status_updated"},
		{event.DomainDelivery, event.TypeCreated, "delivery.created"},
		{event.DomainDelivery, event.TypeAssigned, "delivery.assigned"},
		{event.DomainDelivery, event.TypeStatusUpdated, "delivery.status_updated"},
		{event.DomainUser, event.TypeCreated, "user.created"},
	}

	for _, tc := range tests {
		rb := &recordingBus{}
		out := publisher.NewOutbound(tc.domain, rb, nil)

		out.Emit(t.Context(), tc.ty, map[string]string{"id": "x"})

		if len(rb.keys) != 1 || rb.keys[0] != tc.want {
			t.Fatalf("domain %s type %s: keys=%v want %q", tc.domain, tc.ty, rb.keys, tc.want)
		}
	}
}

func TestEmit_SwallowsPublishFailure(t *testing.T) {
	rb := &recordingBus{err: errors.New("broker down")}
	out := publisher.NewOutbound(event.DomainPackage, rb, nil)

	// must not panic, must not propagate: the local write already stands
	out.Emit(t.Context(), event.TypeCreated, event.PackageCreated{ID: "PKG-1", SenderAddress: "A", RecipientAddress: "B"})

	if len(rb.keys) != 1 {
		t.Fatalf("publish attempted %d times", len(rb.keys))
	}
}

func TestEmit_TimestampUTC(t *testing.T) {
	rb := &recordingBus{}
	out := publisher.NewOutbound(event.DomainUser, rb, nil)

	out.Emit(t.Context(), event.TypeCreated, event.UserCreated{ID: "USR-1", Email: "a@b.c"})

	if got := rb.envs[0].Timestamp; got.IsZero() || got.Location().String() != "UTC" {
		t.Fatalf("timestamp=%v", got)
	}
}
