package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DomainEvent is an analytics record written by the database event sink.
type DomainEvent struct {
	ID        string            `gorm:"primaryKey;size:36" json:"id"`
	UserID    string            `gorm:"size:64;index" json:"user_id"`
	Name      string            `gorm:"size:64;not null;index" json:"name"`
	Source    string            `gorm:"size:128" json:"source"`
	Metadata  datatypes.JSONMap `json:"metadata"`
	CreatedAt time.Time         `gorm:"index" json:"created_at"`
}

func (DomainEvent) TableName() string { return "domain_events" }

func (e *DomainEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
