package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// DNCScope distinguishes user-maintained exclusions from platform-wide ones
type DNCScope string

const (
	DNCScopeUser     DNCScope = "user"
	DNCScopePlatform DNCScope = "platform"
)

// Valid checks if the scope is valid
func (s DNCScope) Valid() bool {
	return s == DNCScopeUser || s == DNCScopePlatform
}

// Scan implements the sql.Scanner interface for DNCScope
func (s *DNCScope) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = DNCScope(v)
	case []byte:
		*s = DNCScope(string(v))
	default:
		return fmt.Errorf("cannot scan %T into DNCScope", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for DNCScope
func (s DNCScope) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid DNCScope: %s", s)
	}
	return string(s), nil
}

// DNCEntry is a do-not-call exclusion consulted at recipient resolution time.
// The filter is point-in-time: numbers added after an entry's snapshot was
// frozen do not retroactively affect that entry.
type DNCEntry struct {
	ID          uint     `gorm:"primaryKey" json:"id"`
	PhoneNumber string   `gorm:"size:20;not null;index:idx_dnc_entries_phone_number" json:"phone_number"`
	Scope       DNCScope `gorm:"type:dnc_scope;not null;default:'user'" json:"scope"`
	Reason      string   `gorm:"type:text" json:"reason"`
	CreatedBy   string   `gorm:"size:64;not null;index:idx_dnc_entries_created_by" json:"created_by"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

func (DNCEntry) TableName() string { return "dnc_entries" }

// DNCEntryFilter provides filter fields for repository queries
type DNCEntryFilter struct {
	ID          *uint
	PhoneNumber *string
	Scope       *DNCScope
	CreatedBy   *string
}
