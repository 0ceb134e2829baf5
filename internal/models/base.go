package models

import (
	"time"

	"audittrail/internal/uuid"

	"gorm.io/gorm"
)

// Base carries the UUIDv7 key and timestamps shared by audited tables.
// UpdatedAt is never tracked by the change log; soft deletion is recorded as
// a Delete operation rather than as a DeletedAt change.
type Base struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty" audit:"ignore" swaggertype:"string"`
}

// BeforeCreate assigns a time-ordered ID so the change log can reference the
// row before the insert is flushed.
func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New()
	}
	return nil
}
