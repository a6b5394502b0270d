package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeadLetter is one message that could not be processed, kept for
// diagnosis instead of being lost with the negative acknowledgment.
type DeadLetter struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Queue      string    `gorm:"size:100;not null;index" json:"queue"`
	RoutingKey string    `gorm:"size:100;not null" json:"routing_key"`
	Reason     string    `gorm:"not null" json:"reason"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

func (DeadLetter) TableName() string { return "dead_letters" }

// DeadLetterStore records undeliverable messages.
type DeadLetterStore interface {
	Record(ctx context.Context, d DeadLetter) error
}

// GormDeadLetterStore persists dead letters in the consuming service's own
// database.
type GormDeadLetterStore struct {
	db *gorm.DB
}

func NewGormDeadLetterStore(db *gorm.DB) (*GormDeadLetterStore, error) {
	if err := db.AutoMigrate(&DeadLetter{}); err != nil {
		return nil, fmt.Errorf("dead letter migrate: %w", err)
	}

	return &GormDeadLetterStore{db: db}, nil
}

func (s *GormDeadLetterStore) Record(ctx context.Context, d DeadLetter) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}

	return s.db.WithContext(ctx).Create(&d).Error
}

// MemoryDeadLetterStore collects dead letters in memory for tests.
type MemoryDeadLetterStore struct {
	Letters []DeadLetter
}

func (s *MemoryDeadLetterStore) Record(_ context.Context, d DeadLetter) error {
	s.Letters = append(s.Letters, d)
	return nil
}
