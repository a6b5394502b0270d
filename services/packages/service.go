package packages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	perr "github.com/parceltrack/parcel-platform/contract/errors"
	"github.com/parceltrack/parcel-platform/contract/event"
	"github.com/parceltrack/parcel-platform/publisher"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Package statuses follow the original lifecycle; status strings travel in
// events and responses unchanged.
const (
	StatusCreated   = "created"
	StatusInTransit = "in_transit"
	StatusDelivered = "delivered"
)

var ErrInvalidInput = errors.New("invalid package input")

type Package struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	TrackingNumber   string    `gorm:"size:20;uniqueIndex;not null" json:"tracking_number"`
	SenderID         string    `gorm:"size:36;not null" json:"sender_id"`
	RecipientID      string    `gorm:"size:36;not null" json:"recipient_id"`
	SenderAddress    string    `gorm:"not null" json:"sender_address"`
	RecipientAddress string    `gorm:"not null" json:"recipient_address"`
	Weight           float64   `gorm:"not null" json:"weight"`
	Dimensions       string    `gorm:"size:50;not null" json:"dimensions"` // "LxWxH"
	Status           string    `gorm:"size:20;default:created" json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (Package) TableName() string { return "packages" }

// Store is the persistence boundary of the package service.
type Store interface {
	Get(ctx context.Context, id string) (*Package, error)
	GetByTracking(ctx context.Context, trackingNumber string) (*Package, error)
	List(ctx context.Context) ([]Package, error)
	Create(ctx context.Context, p *Package) error
	Update(ctx context.Context, p *Package) error
}

type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Package{}); err != nil {
		return nil, fmt.Errorf("package migrate: %w", err)
	}

	return &GormStore{db: db}, nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*Package, error) {
	var p Package
	if err := s.db.WithContext(ctx).Take(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("package %s: %w", id, perr.ErrNotFound)
		}

		return nil, err
	}

	return &p, nil
}

func (s *GormStore) GetByTracking(ctx context.Context, trackingNumber string) (*Package, error) {
	var p Package
	if err := s.db.WithContext(ctx).Take(&p, "tracking_number = ?", trackingNumber).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("tracking %s: %w", trackingNumber, perr.ErrNotFound)
		}

		return nil, err
	}

	return &p, nil
}

func (s *GormStore) List(ctx context.Context) ([]Package, error) {
	var out []Package
	if err := s.db.WithContext(ctx).Order("created_at").Find(&out).Error; err != nil {
		return nil, err
	}

	return out, nil
}

func (s *GormStore) Create(ctx context.Context, p *Package) error {
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *GormStore) Update(ctx context.Context, p *Package) error {
	return s.db.WithContext(ctx).Save(p).Error
}

// Service owns package writes. Events are emitted after the store commit,
// never before.
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

type CreateInput struct {
	SenderID         string  `json:"sender_id"`
	RecipientID      string  `json:"recipient_id"`
	SenderAddress    string  `json:"sender_address"`
	RecipientAddress string  `json:"recipient_address"`
	Weight           float64 `json:"weight"`
	Dimensions       string  `json:"dimensions"`
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Package, error) {
	if in.SenderID == "" || in.RecipientID == "" || in.SenderAddress == "" || in.RecipientAddress == "" {
		return nil, fmt.Errorf("sender, recipient and addresses required: %w", ErrInvalidInput)
	}

	now := time.Now().UTC()
	p := &Package{
		ID:               uuid.NewString(),
		TrackingNumber:   trackingNumber(now),
		SenderID:         in.SenderID,
		RecipientID:      in.RecipientID,
		SenderAddress:    in.SenderAddress,
		RecipientAddress: in.RecipientAddress,
		Weight:           in.Weight,
		Dimensions:       in.Dimensions,
		Status:           StatusCreated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create package: %w", err)
	}

	s.events.Emit(ctx, event.TypeCreated, event.PackageCreated{
		ID:               p.ID,
		TrackingNumber:   p.TrackingNumber,
		SenderID:         p.SenderID,
		RecipientID:      p.RecipientID,
		SenderAddress:    p.SenderAddress,
		RecipientAddress: p.RecipientAddress,
		Weight:           p.Weight,
		Dimensions:       p.Dimensions,
		Status:           p.Status,
	})

	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Package, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) GetByTracking(ctx context.Context, trackingNumber string) (*Package, error) {
	return s.store.GetByTracking(ctx, trackingNumber)
}

func (s *Service) List(ctx context.Context) ([]Package, error) {
	return s.store.List(ctx)
}

func (s *Service) UpdateStatus(ctx context.Context, id, status string) (*Package, error) {
	if status == "" {
		return nil, fmt.Errorf("status required: %w", ErrInvalidInput)
	}

	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	oldStatus := p.Status
	p.Status = status
	p.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update package %s: %w", id, err)
	}

	s.events.Emit(ctx, event.TypeStatusUpdated, event.PackageStatusUpdated{
		PackageID:      p.ID,
		OldStatus:      oldStatus,
		NewStatus:      p.Status,
		TrackingNumber: p.TrackingNumber,
	})

	return p, nil
}

// trackingNumber builds "PKG<yyyymmdd><8 random hex>", matching the format
// customers already have on their labels.
func trackingNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "PKG" + now.Format("20060102") + suffix
}
