package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	perr "github.com/parceltrack/parcel-platform/contract/errors"
)

// Read views as the services expose them. Field names follow the services'
// JSON responses.

type PackageView struct {
	ID               string  `json:"id"`
	TrackingNumber   string  `json:"tracking_number"`
	SenderID         string  `json:"sender_id"`
	RecipientID      string  `json:"recipient_id"`
	SenderAddress    string  `json:"sender_address"`
	RecipientAddress string  `json:"recipient_address"`
	Weight           float64 `json:"weight"`
	Dimensions       string  `json:"dimensions"`
	Status           string  `json:"status"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

type DeliveryView struct {
	ID                string  `json:"id"`
	PackageID         string  `json:"package_id"`
	DriverID          *string `json:"driver_id"`
	PickupAddress     string  `json:"pickup_address"`
	DeliveryAddress   string  `json:"delivery_address"`
	Status            string  `json:"status"`
	EstimatedDelivery *string `json:"estimated_delivery"`
	ActualDelivery    *string `json:"actual_delivery"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

type UserView struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Phone     *string `json:"phone"`
	UserType  string  `json:"user_type"`
	IsActive  bool    `json:"is_active"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// HTTPClients implements the three reader interfaces against the services'
// plain HTTP read endpoints.
type HTTPClients struct {
	PackageBaseURL  string
	DeliveryBaseURL string
	UserBaseURL     string
	Client          *http.Client
}

var (
	_ PackageReader  = (*HTTPClients)(nil)
	_ DeliveryReader = (*HTTPClients)(nil)
	_ UserReader     = (*HTTPClients)(nil)
)

func (h *HTTPClients) Readers() Clients {
	return Clients{Packages: h, Deliveries: h, Users: h}
}

func (h *HTTPClients) PackageByID(ctx context.Context, id string) (*PackageView, error) {
	var out PackageView
	if err := h.getJSON(ctx, h.PackageBaseURL+"/packages/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}

	return &out, nil
}

func (h *HTTPClients) DeliveriesByPackage(ctx context.Context, packageID string) ([]DeliveryView, error) {
	var out []DeliveryView

	u := h.DeliveryBaseURL + "/deliveries?package_id=" + url.QueryEscape(packageID)
	if err := h.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}

	return out, nil
}

func (h *HTTPClients) UserByID(ctx context.Context, id string) (*UserView, error) {
	var out UserView
	if err := h.getJSON(ctx, h.UserBaseURL+"/users/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}

	return &out, nil
}

func (h *HTTPClients) getJSON(ctx context.Context, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("request %s: %w", rawURL, errors.Join(perr.ErrDependencyUnavailable, err))
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", rawURL, errors.Join(perr.ErrDependencyUnavailable, err))
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", rawURL, perr.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%s: status %d: %w", rawURL, resp.StatusCode, perr.ErrDependencyUnavailable)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, errors.Join(perr.ErrDependencyUnavailable, err))
	}

	return nil
}
