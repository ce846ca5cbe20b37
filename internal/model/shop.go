package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Shop groups vending machines owned by one user.
type Shop struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	Location  string    `gorm:"size:256" json:"location,omitempty"`
	OwnerID   string    `gorm:"column:owner;size:64;index;not null" json:"owner"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`

	// Associations
	Devices []Device `gorm:"foreignKey:ShopID" json:"-"`
}

// BeforeCreate assigns the internal id.
func (s *Shop) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
