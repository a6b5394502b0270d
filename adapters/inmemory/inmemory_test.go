package inmemory_test

import (
	"context"
	"sync"
	"testing"

	"github.com/parceltrack/parcel-platform/adapters/inmemory"
	cbus "github.com/parceltrack/parcel-platform/contract/bus"
	"github.com/parceltrack/parcel-platform/contract/event"
)

func ackHandler(got *[]string, mu *sync.Mutex) cbus.Handler {
	return func(ctx context.Context, d cbus.Delivery) cbus.Verdict {
		mu.Lock()
		*got = append(*got, d.RoutingKey)
		mu.Unlock()

		return cbus.Ack
	}
}

func TestFanOutAcrossQueues(t *testing.T) {
	b := inmemory.New()

	var mu sync.Mutex
	var q1, q2 []string

	b.Bind(cbus.Subscription{Queue: "delivery_service_queue", Pattern: "package.*"}, ackHandler(&q1, &mu))
	b.Bind(cbus.Subscription{Queue: "audit_queue", Pattern: "#"}, ackHandler(&q2, &mu))

	env, _ := event.New(event.TypeCreated, event.PackageCreated{ID: "PKG-1", SenderAddress: "A", RecipientAddress: "B"})
	if err := b.Publish(t.Context(), "package.created", env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(q1) != 1 || len(q2) != 1 {
		t.Fatalf("fan-out: q1=%v q2=%v", q1, q2)
	}
}

func TestPatternMatching(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"package.*", "package.created", true},
		{"package.*", "package.status_updated", true},
		{"package.*", "delivery.created", false},
		{"package.*", "package.created.extra", false},
		{"#", "delivery.assigned", true},
		{"package.created", "package.created", true},
		{"package.created", "package.status_updated", false},
	}

	for _, tc := range tests {
		b := inmemory.New()

		var mu sync.Mutex
		var got []string

		b.Bind(cbus.Subscription{Queue: "q", Pattern: tc.pattern}, ackHandler(&got, &mu))

		env, _ := event.New(event.TypeCreated, map[string]string{"id": "x"})
		_ = b.Publish(t.Context(), tc.key, env)

		if (len(got) == 1) != tc.want {
			t.Fatalf("pattern %q key %q: delivered=%v want %v", tc.pattern, tc.key, got, tc.want)
		}
	}
}

func TestLoadBalanceWithinQueue(t *testing.T) {
	b := inmemory.New()

	var mu sync.Mutex
	var a, c []string

	sub := cbus.Subscription{Queue: "delivery_service_queue", Pattern: "package.*"}
	b.Bind(sub, ackHandler(&a, &mu))
	b.Bind(sub, ackHandler(&c, &mu))

	env, _ := event.New(event.TypeCreated, map[string]string{"id": "x"})
	for range 4 {
		_ = b.Publish(t.Context(), "package.created", env)
	}

	if len(a) != 2 || len(c) != 2 {
		t.Fatalf("load balance: a=%d c=%d", len(a), len(c))
	}
}

func TestVerdictsRecorded(t *testing.T) {
	b := inmemory.New()

	b.Bind(cbus.Subscription{Queue: "q", Pattern: "#"}, func(ctx context.Context, d cbus.Delivery) cbus.Verdict {
		return cbus.Drop
	})

	if err := b.Inject(t.Context(), "package.created", []byte(`garbage`)); err != nil {
		t.Fatalf("inject: %v", err)
	}

	if got := b.Verdicts["q"]; len(got) != 1 || got[0] != cbus.Drop {
		t.Fatalf("verdicts=%v", got)
	}
}

func TestSubscribeBlocksUntilCancel(t *testing.T) {
	b := inmemory.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- b.Subscribe(ctx, cbus.Subscription{Queue: "q", Pattern: "#"}, func(ctx context.Context, d cbus.Delivery) cbus.Verdict {
			return cbus.Ack
		})
	}()

	cancel()

	if err := <-done; err != context.Canceled {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
