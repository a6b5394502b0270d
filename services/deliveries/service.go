package deliveries

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/parceltrack/parcel-platform/consumer"
	cbus "github.com/parceltrack/parcel-platform/contract/bus"
	perr "github.com/parceltrack/parcel-platform/contract/errors"
	"github.com/parceltrack/parcel-platform/contract/event"
	"github.com/parceltrack/parcel-platform/publisher"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	StatusPending   = "pending"
	StatusAssigned  = "assigned"
	StatusPickedUp  = "picked_up"
	StatusInTransit = "in_transit"
	StatusDelivered = "delivered"
)

// Queue is the durable queue this service consumes package events from.
const Queue = "delivery_service_queue"

var ErrInvalidInput = errors.New("invalid delivery input")

// Delivery is one delivery job for one package. PackageID carries a unique
// index so redelivered package.created events collapse into a single row.
type Delivery struct {
	ID                string     `gorm:"primaryKey;size:36" json:"id"`
	PackageID         string     `gorm:"size:36;uniqueIndex;not null" json:"package_id"`
	DriverID          *string    `gorm:"size:36" json:"driver_id"`
	PickupAddress     string     `gorm:"not null" json:"pickup_address"`
	DeliveryAddress   string     `gorm:"not null" json:"delivery_address"`
	Status            string     `gorm:"size:20;default:pending" json:"status"`
	EstimatedDelivery *time.Time `json:"estimated_delivery"`
	ActualDelivery    *time.Time `json:"actual_delivery"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (Delivery) TableName() string { return "deliveries" }

// DeliveryRoute groups deliveries for one driver into an ordered run.
type DeliveryRoute struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	DriverID    string    `gorm:"size:36;not null" json:"driver_id"`
	RouteName   string    `gorm:"size:100;not null" json:"route_name"`
	DeliveryIDs []string  `gorm:"serializer:json" json:"deliveries"`
	Status      string    `gorm:"size:20;default:planned" json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func (DeliveryRoute) TableName() string { return "delivery_routes" }

type Store interface {
	Get(ctx context.Context, id string) (*Delivery, error)
	List(ctx context.Context) ([]Delivery, error)
	ListByPackage(ctx context.Context, packageID string) ([]Delivery, error)
	Create(ctx context.Context, d *Delivery) error
	// CreateIfAbsent inserts unless a delivery for the same package already
	// exists. Reports whether a row was written.
	CreateIfAbsent(ctx context.Context, d *Delivery) (bool, error)
	Update(ctx context.Context, d *Delivery) error
	CreateRoute(ctx context.Context, r *DeliveryRoute) error
	ListRoutes(ctx context.Context) ([]DeliveryRoute, error)
}

type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Delivery{}, &DeliveryRoute{}); err != nil {
		return nil, fmt.Errorf("delivery migrate: %w", err)
	}

	return &GormStore{db: db}, nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*Delivery, error) {
	var d Delivery
	if err := s.db.WithContext(ctx).Take(&d, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("delivery %s: %w", id, perr.ErrNotFound)
		}

		return nil, err
	}

	return &d, nil
}

func (s *GormStore) List(ctx context.Context) ([]Delivery, error) {
	var out []Delivery
	if err := s.db.WithContext(ctx).Order("created_at").Find(&out).Error; err != nil {
		return nil, err
	}

	return out, nil
}

func (s *GormStore) ListByPackage(ctx context.Context, packageID string) ([]Delivery, error) {
	var out []Delivery
	if err := s.db.WithContext(ctx).Where("package_id = ?", packageID).Find(&out).Error; err != nil {
		return nil, err
	}

	return out, nil
}

func (s *GormStore) Create(ctx context.Context, d *Delivery) error {
	return s.db.WithContext(ctx).Create(d).Error
}

func (s *GormStore) CreateIfAbsent(ctx context.Context, d *Delivery) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "package_id"}}, DoNothing: true}).
		Create(d)
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

func (s *GormStore) Update(ctx context.Context, d *Delivery) error {
	return s.db.WithContext(ctx).Save(d).Error
}

func (s *GormStore) CreateRoute(ctx context.Context, r *DeliveryRoute) error {
	return s.db.WithContext(ctx).Create(r).Error
}

func (s *GormStore) ListRoutes(ctx context.Context) ([]DeliveryRoute, error) {
	var out []DeliveryRoute
	if err := s.db.WithContext(ctx).Order("created_at").Find(&out).Error; err != nil {
		return nil, err
	}

	return out, nil
}

type Service struct {
	store  Store
	events *publisher.Outbound
	log    *zap.Logger
}

func NewService(store Store, events *publisher.Outbound, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}

	return &Service{store: store, events: events, log: log}
}

// Consumer wires the package event handlers onto the service's durable
// queue. The returned consumer is started once by the service binary.
func (s *Service) Consumer(dead consumer.DeadLetterStore) *consumer.Consumer {
	c := consumer.New(cbus.Subscription{Queue: Queue, Pattern: "package.*"}, s.log)
	c.On(event.DomainPackage, event.TypeCreated, func(ctx context.Context, payload any) error {
		return s.CreateFromPackage(ctx, payload.(event.PackageCreated))
	})
	if dead != nil {
		c.WithDeadLetter(dead)
	}

	return c
}

// CreateFromPackage reacts to package.created by opening a pending delivery
// with the addresses copied from the package. Idempotent on package_id; a
// redelivered event is logged and ignored.
func (s *Service) CreateFromPackage(ctx context.Context, p event.PackageCreated) error {
	now := time.Now().UTC()
	d := &Delivery{
		ID:              uuid.NewString(),
		PackageID:       p.ID,
		PickupAddress:   p.SenderAddress,
		DeliveryAddress: p.RecipientAddress,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	created, err := s.store.CreateIfAbsent(ctx, d)
	if err != nil {
		return fmt.Errorf("delivery for package %s: %w", p.ID, err)
	}

	if !created {
		s.log.Info("duplicate package.created ignored", zap.String("package_id", p.ID))
		return nil
	}

	s.log.Info("delivery opened from package event",
		zap.String("delivery_id", d.ID),
		zap.String("package_id", p.ID),
		zap.String("tracking_number", p.TrackingNumber))

	return nil
}

type CreateInput struct {
	PackageID       string `json:"package_id"`
	PickupAddress   string `json:"pickup_address"`
	DeliveryAddress string `json:"delivery_address"`
}

// Create opens a delivery directly over the API, outside the choreography
// path. Emits delivery.created.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Delivery, error) {
	if in.PackageID == "" || in.PickupAddress == "" || in.DeliveryAddress == "" {
		return nil, fmt.Errorf("package and addresses required: %w", ErrInvalidInput)
	}

	now := time.Now().UTC()
	d := &Delivery{
		ID:              uuid.NewString(),
		PackageID:       in.PackageID,
		PickupAddress:   in.PickupAddress,
		DeliveryAddress: in.DeliveryAddress,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create delivery: %w", err)
	}

	s.events.Emit(ctx, event.TypeCreated, event.DeliveryCreated{
		ID:              d.ID,
		PackageID:       d.PackageID,
		PickupAddress:   d.PickupAddress,
		DeliveryAddress: d.DeliveryAddress,
		Status:          d.Status,
	})

	return d, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Delivery, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Delivery, error) {
	return s.store.List(ctx)
}

func (s *Service) ListByPackage(ctx context.Context, packageID string) ([]Delivery, error) {
	return s.store.ListByPackage(ctx, packageID)
}

// Assign puts a driver on the delivery and emits delivery.assigned.
func (s *Service) Assign(ctx context.Context, id, driverID string) (*Delivery, error) {
	if driverID == "" {
		return nil, fmt.Errorf("driver_id required: %w", ErrInvalidInput)
	}

	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	d.DriverID = &driverID
	d.Status = StatusAssigned
	d.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("assign delivery %s: %w", id, err)
	}

	s.events.Emit(ctx, event.TypeAssigned, event.DeliveryAssigned{
		ID:        d.ID,
		PackageID: d.PackageID,
		DriverID:  driverID,
		Status:    d.Status,
	})

	return d, nil
}

// UpdateStatus moves the delivery along its lifecycle and emits
// delivery.status_updated. Reaching delivered stamps the actual delivery
// time.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) (*Delivery, error) {
	if status == "" {
		return nil, fmt.Errorf("status required: %w", ErrInvalidInput)
	}

	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	oldStatus := d.Status
	d.Status = status
	d.UpdatedAt = time.Now().UTC()
	if status == StatusDelivered {
		now := time.Now().UTC()
		d.ActualDelivery = &now
	}

	if err := s.store.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("update delivery %s: %w", id, err)
	}

	s.events.Emit(ctx, event.TypeStatusUpdated, event.DeliveryStatusUpdated{
		DeliveryID: d.ID,
		PackageID:  d.PackageID,
		OldStatus:  oldStatus,
		NewStatus:  d.Status,
	})

	return d, nil
}

type RouteInput struct {
	DriverID    string   `json:"driver_id"`
	RouteName   string   `json:"route_name"`
	DeliveryIDs []string `json:"deliveries"`
}

func (s *Service) CreateRoute(ctx context.Context, in RouteInput) (*DeliveryRoute, error) {
	if in.DriverID == "" || in.RouteName == "" {
		return nil, fmt.Errorf("driver_id and route_name required: %w", ErrInvalidInput)
	}

	r := &DeliveryRoute{
		ID:          uuid.NewString(),
		DriverID:    in.DriverID,
		RouteName:   in.RouteName,
		DeliveryIDs: in.DeliveryIDs,
		Status:      "planned",
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.store.CreateRoute(ctx, r); err != nil {
		return nil, fmt.Errorf("create route: %w", err)
	}

	return r, nil
}

func (s *Service) ListRoutes(ctx context.Context) ([]DeliveryRoute, error) {
	return s.store.ListRoutes(ctx)
}
