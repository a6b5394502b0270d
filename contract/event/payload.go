package event

import (
	"encoding/json"
	"fmt"

	perr "github.com/parceltrack/parcel-platform/contract/errors"
)

// Typed payload shapes, one per (domain, event type) pair. Payloads are
// validated at the deserialization boundary rather than trusted implicitly;
// the contract between publisher and consumer is otherwise by convention.

type PackageCreated struct {
	ID               string  `json:"id"`
	TrackingNumber   string  `json:"tracking_number"`
	SenderID         string  `json:"sender_id"`
	RecipientID      string  `json:"recipient_id"`
	SenderAddress    string  `json:"sender_address"`
	RecipientAddress string  `json:"recipient_address"`
	Weight           float64 `json:"weight"`
	Dimensions       string  `json:"dimensions"`
	Status           string  `json:"status"`
}

type PackageStatusUpdated struct {
	PackageID      string `json:"package_id"`
	OldStatus      string `json:"old_status"`
	NewStatus      string `json:"new_status"`
	TrackingNumber string `json:"tracking_number"`
}

type DeliveryCreated struct {
	ID              string `json:"id"`
	PackageID       string `json:"package_id"`
	DriverID        string `json:"driver_id,omitempty"`
	PickupAddress   string `json:"pickup_address"`
	DeliveryAddress string `json:"delivery_address"`
	Status          string `json:"status"`
}

type DeliveryAssigned struct {
	ID        string `json:"id"`
	PackageID string `json:"package_id"`
	DriverID  string `json:"driver_id"`
	Status    string `json:"status"`
}

type DeliveryStatusUpdated struct {
	DeliveryID string `json:"delivery_id"`
	PackageID  string `json:"package_id"`
	OldStatus  string `json:"old_status"`
	NewStatus  string `json:"new_status"`
}

type UserCreated struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone,omitempty"`
	UserType  string `json:"user_type"`
}

// DecodePayload resolves the envelope data into its typed payload based on
// the routing key the message arrived under.
//
// Unknown (domain, event type) pairs return ErrUnknownEvent so consumers can
// acknowledge and ignore them; payloads that fail to parse or lack required
// fields return ErrMalformedEvent.
func DecodePayload(routingKey string, env Envelope) (any, error) {
	d, t, err := SplitRoutingKey(routingKey)
	if err != nil {
		return nil, err
	}

	switch {
	case d == DomainPackage && t == TypeCreated:
		var p PackageCreated
		if err := decodeInto(env.Data, &p); err != nil {
			return nil, err
		}
		if p.ID == "" || p.SenderAddress == "" || p.RecipientAddress == "" {
			return nil, requiredFields(routingKey)
		}
		return p, nil

	case d == DomainPackage && t == TypeStatusUpdated:
		var p PackageStatusUpdated
		if err := decodeInto(env.Data, &p); err != nil {
			return nil, err
		}
		if p.PackageID == "" || p.NewStatus == "" {
			return nil, requiredFields(routingKey)
		}
		return p, nil

	case d == DomainDelivery && t == TypeCreated:
		var p DeliveryCreated
		if err := decodeInto(env.Data, &p); err != nil {
			return nil, err
		}
		if p.ID == "" || p.PackageID == "" {
			return nil, requiredFields(routingKey)
		}
		return p, nil

	case d == DomainDelivery && t == TypeAssigned:
		var p DeliveryAssigned
		if err := decodeInto(env.Data, &p); err != nil {
			return nil, err
		}
		if p.ID == "" || p.DriverID == "" {
			return nil, requiredFields(routingKey)
		}
		return p, nil

	case d == DomainDelivery && t == TypeStatusUpdated:
		var p DeliveryStatusUpdated
		if err := decodeInto(env.Data, &p); err != nil {
			return nil, err
		}
		if p.DeliveryID == "" || p.NewStatus == "" {
			return nil, requiredFields(routingKey)
		}
		return p, nil

	case d == DomainUser && t == TypeCreated:
		var p UserCreated
		if err := decodeInto(env.Data, &p); err != nil {
			return nil, err
		}
		if p.ID == "" || p.Email == "" {
			return nil, requiredFields(routingKey)
		}
		return p, nil
	}

	return nil, fmt.Errorf("event %s: %w", routingKey, perr.ErrUnknownEvent)
}

func decodeInto(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("empty payload: %w", perr.ErrMalformedEvent)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("payload decode: %w", perr.ErrMalformedEvent)
	}

	return nil
}

func requiredFields(routingKey string) error {
	return fmt.Errorf("event %s missing required fields: %w", routingKey, perr.ErrMalformedEvent)
}
