package models

import (
	"time"

	"github.com/lib/pq"
)

// Contact represents an addressable recipient owned by a user. Contact
// management itself lives in another service; this model exists so the
// recipient resolver can expand campaign contact groups.
type Contact struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"size:255;not null" json:"name"`
	PhoneNumber string         `gorm:"size:20;not null;index:idx_contacts_phone_number" json:"phone_number"`
	Groups      pq.StringArray `gorm:"type:text[];not null" json:"groups"`
	CreatedBy   string         `gorm:"size:64;not null;index:idx_contacts_created_by" json:"created_by"`

	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (Contact) TableName() string { return "contacts" }

// ContactFilter provides filter fields for repository queries
type ContactFilter struct {
	ID          *uint
	PhoneNumber *string
	Group       *string
	CreatedBy   *string
}
