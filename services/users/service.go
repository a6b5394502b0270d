package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	perr "github.com/parceltrack/parcel-platform/contract/errors"
	"github.com/parceltrack/parcel-platform/contract/event"
	"github.com/parceltrack/parcel-platform/publisher"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	TypeCustomer = "customer"
	TypeDriver   = "driver"
	TypeAdmin    = "admin"
)

var (
	ErrInvalidInput       = errors.New("invalid user input")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User holds an account. PasswordHash never leaves the service, in responses
// or in events.
type User struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Email        string    `gorm:"size:120;uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"size:128;not null" json:"-"`
	FirstName    string    `gorm:"size:50;not null" json:"first_name"`
	LastName     string    `gorm:"size:50;not null" json:"last_name"`
	Phone        *string   `gorm:"size:20" json:"phone"`
	UserType     string    `gorm:"size:20;default:customer" json:"user_type"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

type Address struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	UserID        string    `gorm:"size:36;not null;index" json:"user_id"`
	StreetAddress string    `gorm:"size:200;not null" json:"street_address"`
	City          string    `gorm:"size:50;not null" json:"city"`
	State         string    `gorm:"size:50;not null" json:"state"`
	PostalCode    string    `gorm:"size:20;not null" json:"postal_code"`
	Country       string    `gorm:"size:50;not null" json:"country"`
	IsDefault     bool      `json:"is_default"`
	CreatedAt     time.Time `json:"created_at"`
}

func (Address) TableName() string { return "addresses" }

type Store interface {
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, userType string) ([]User, error)
	Create(ctx context.Context, u *User) error
	CreateAddress(ctx context.Context, a *Address) error
	ListAddresses(ctx context.Context, userID string) ([]Address, error)
}

type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&User{}, &Address{}); err != nil {
		return nil, fmt.Errorf("user migrate: %w", err)
	}

	return &GormStore{db: db}, nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*User, error) {
	var u User
	if err := s.db.WithContext(ctx).Take(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %s: %w", id, perr.ErrNotFound)
		}

		return nil, err
	}

	return &u, nil
}

func (s *GormStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	if err := s.db.WithContext(ctx).Take(&u, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("email %s: %w", email, perr.ErrNotFound)
		}

		return nil, err
	}

	return &u, nil
}

func (s *GormStore) List(ctx context.Context, userType string) ([]User, error) {
	q := s.db.WithContext(ctx).Order("created_at")
	if userType != "" {
		q = q.Where("user_type = ?", userType)
	}

	var out []User
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}

	return out, nil
}

func (s *GormStore) Create(ctx context.Context, u *User) error {
	return s.db.WithContext(ctx).Create(u).Error
}

func (s *GormStore) CreateAddress(ctx context.Context, a *Address) error {
	return s.db.WithContext(ctx).Create(a).Error
}

func (s *GormStore) ListAddresses(ctx context.Context, userID string) ([]Address, error) {
	var out []Address
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&out).Error; err != nil {
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

type CreateInput struct {
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Phone     *string `json:"phone"`
	UserType  string  `json:"user_type"`
}

// Create registers an account and emits user.created. The event payload
// carries the profile only, never credentials.
func (s *Service) Create(ctx context.Context, in CreateInput) (*User, error) {
	if in.Email == "" || in.Password == "" || in.FirstName == "" || in.LastName == "" {
		return nil, fmt.Errorf("email, password and name required: %w", ErrInvalidInput)
	}

	userType := in.UserType
	if userType == "" {
		userType = TypeCustomer
	}
	switch userType {
	case TypeCustomer, TypeDriver, TypeAdmin:
	default:
		return nil, fmt.Errorf("user_type %q: %w", userType, ErrInvalidInput)
	}

	if _, err := s.store.GetByEmail(ctx, in.Email); err == nil {
		return nil, fmt.Errorf("email %s: %w", in.Email, ErrEmailTaken)
	} else if !errors.Is(err, perr.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	u := &User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		PasswordHash: string(hash),
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Phone:        in.Phone,
		UserType:     userType,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	var phone string
	if u.Phone != nil {
		phone = *u.Phone
	}

	s.events.Emit(ctx, event.TypeCreated, event.UserCreated{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Phone:     phone,
		UserType:  u.UserType,
	})

	return u, nil
}

func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, userType string) ([]User, error) {
	return s.store.List(ctx, userType)
}

// Drivers lists accounts available for delivery assignment.
func (s *Service) Drivers(ctx context.Context) ([]User, error) {
	return s.store.List(ctx, TypeDriver)
}

// Login verifies credentials. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*User, error) {
	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, perr.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}

		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

type AddressInput struct {
	StreetAddress string `json:"street_address"`
	City          string `json:"city"`
	State         string `json:"state"`
	PostalCode    string `json:"postal_code"`
	Country       string `json:"country"`
	IsDefault     bool   `json:"is_default"`
}

func (s *Service) AddAddress(ctx context.Context, userID string, in AddressInput) (*Address, error) {
	if in.StreetAddress == "" || in.City == "" {
		return nil, fmt.Errorf("street_address and city required: %w", ErrInvalidInput)
	}

	if _, err := s.store.Get(ctx, userID); err != nil {
		return nil, err
	}

	a := &Address{
		ID:            uuid.NewString(),
		UserID:        userID,
		StreetAddress: in.StreetAddress,
		City:          in.City,
		State:         in.State,
		PostalCode:    in.PostalCode,
		Country:       in.Country,
		IsDefault:     in.IsDefault,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.store.CreateAddress(ctx, a); err != nil {
		return nil, fmt.Errorf("create address: %w", err)
	}

	return a, nil
}

func (s *Service) Addresses(ctx context.Context, userID string) ([]Address, error) {
	if _, err := s.store.Get(ctx, userID); err != nil {
		return nil, err
	}

	return s.store.ListAddresses(ctx, userID)
}
