package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	perr "github.com/parceltrack/parcel-platform/contract/errors"
)

// Broker topology shared by every participant. The exchange is declared
// idempotently by publishers and subscribers alike, since declaration order
// is not guaranteed.
const (
	Exchange     = "parcel_events"
	ExchangeType = "topic"
)

// Domain identifies the service that owns an event. It forms the first
// segment of the routing key.
type Domain string

const (
	DomainPackage  Domain = "package"
	DomainDelivery Domain = "delivery"
	DomainUser     Domain = "user"
)

// Type is the event type within a domain. Types are scoped to the owning
// domain: package.created and delivery.created are distinct events.
type Type string

const (
	TypeCreated       Type = "created"
	TypeStatusUpdated Type = "status_updated"
	TypeAssigned      Type = "assigned"
)

// Envelope is the wire format of a notification:
// {"event_type": string, "timestamp": ISO-8601, "data": object}.
// An envelope is immutable once constructed; the routing key is derived
// from domain and event type and never stored.
type Envelope struct {
	EventType Type            `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// New builds an envelope for the given event type with the current UTC time
// and the JSON-serialized payload.
func New(t Type, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope %s serialize: %w", t, perr.ErrSerializationFailed)
	}

	return Envelope{EventType: t, Timestamp: time.Now().UTC(), Data: data}, nil
}

// RoutingKey derives the dot-separated topic key for a domain event.
func RoutingKey(d Domain, t Type) string {
	return string(d) + "." + string(t)
}

// SplitRoutingKey parses "<domain>.<event_type>" back into its parts.
func SplitRoutingKey(key string) (Domain, Type, error) {
	i := strings.IndexByte(key, '.')
	if i <= 0 || i == len(key)-1 {
		return "", "", fmt.Errorf("routing key %q: %w", key, perr.ErrMalformedEvent)
	}

	return Domain(key[:i]), Type(key[i+1:]), nil
}

// Parse deserializes an envelope from its wire form. A body that is not
// valid JSON or lacks an event type is malformed.
func Parse(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("envelope parse: %w", perr.ErrMalformedEvent)
	}

	if env.EventType == "" {
		return Envelope{}, fmt.Errorf("envelope missing event_type: %w", perr.ErrMalformedEvent)
	}

	return env, nil
}
