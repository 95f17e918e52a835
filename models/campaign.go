package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ThrottleLevel controls per-message pacing inside a batch
type ThrottleLevel string

const (
	ThrottleLow    ThrottleLevel = "low"
	ThrottleMedium ThrottleLevel = "medium"
	ThrottleHigh   ThrottleLevel = "high"
)

// String returns the string representation of the throttle level
func (t ThrottleLevel) String() string {
	return string(t)
}

// Valid checks if the throttle level is valid
func (t ThrottleLevel) Valid() bool {
	switch t {
	case ThrottleLow, ThrottleMedium, ThrottleHigh:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for ThrottleLevel
func (t *ThrottleLevel) Scan(value any) error {
	if value == nil {
		*t = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*t = ThrottleLevel(v)
	case []byte:
		*t = ThrottleLevel(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ThrottleLevel", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for ThrottleLevel
func (t ThrottleLevel) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid ThrottleLevel: %s", t)
	}
	return string(t), nil
}

// BatchSize is the number of recipients dispatched per batch
type BatchSize int

const (
	BatchSizeMini   BatchSize = 50
	BatchSizeSmall  BatchSize = 100
	BatchSizeMedium BatchSize = 150
	BatchSizeLarge  BatchSize = 200
)

// Valid checks if the batch size is one of the supported sizes
func (b BatchSize) Valid() bool {
	switch b {
	case BatchSizeMini, BatchSizeSmall, BatchSizeMedium, BatchSizeLarge:
		return true
	default:
		return false
	}
}

// BufferTime is the delay between consecutive batches, in minutes
type BufferTime int

const (
	BufferShort    BufferTime = 1
	BufferModerate BufferTime = 2
	BufferLong     BufferTime = 5
)

// Valid checks if the buffer time is one of the supported values
func (b BufferTime) Valid() bool {
	switch b {
	case BufferShort, BufferModerate, BufferLong:
		return true
	default:
		return false
	}
}

// Duration converts the buffer time to a time.Duration using the provided
// unit. The unit is a configuration knob so tests can compress wall time.
func (b BufferTime) Duration(unit time.Duration) time.Duration {
	if unit <= 0 {
		unit = time.Minute
	}
	return time.Duration(b) * unit
}

// Campaign represents a reusable message + audience + policy definition.
// A campaign is immutable once created; dispatching it creates QueueEntries.
type Campaign struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	UUID          uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uk_campaigns_uuid" json:"uuid"`
	Name          string         `gorm:"size:255;not null" json:"name"`
	Message       string         `gorm:"type:text;not null" json:"message"`
	SenderMSISDN  string         `gorm:"size:20;not null" json:"sender_msisdn"`
	ContactGroups pq.StringArray `gorm:"type:text[];not null" json:"contact_groups"`
	IncludeOptOut bool           `gorm:"not null;default:false" json:"include_opt_out"`
	BatchSize     BatchSize      `gorm:"not null;default:50" json:"batch_size"`
	BufferTime    BufferTime     `gorm:"not null;default:2" json:"buffer_time"`
	Throttle      ThrottleLevel  `gorm:"size:16;not null;default:'medium'" json:"throttle"`
	CreatedBy     string         `gorm:"size:64;not null;index:idx_campaigns_created_by" json:"created_by"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

func (Campaign) TableName() string { return "campaigns" }

// Validate checks the campaign policy fields
func (c *Campaign) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("campaign name is required")
	}
	if c.Message == "" {
		return fmt.Errorf("campaign message is required")
	}
	if c.SenderMSISDN == "" {
		return fmt.Errorf("campaign sender msisdn is required")
	}
	if len(c.ContactGroups) == 0 {
		return fmt.Errorf("campaign requires at least one contact group")
	}
	if !c.BatchSize.Valid() {
		return fmt.Errorf("invalid batch size: %d", c.BatchSize)
	}
	if !c.BufferTime.Valid() {
		return fmt.Errorf("invalid buffer time: %d", c.BufferTime)
	}
	if !c.Throttle.Valid() {
		return fmt.Errorf("invalid throttle level: %s", c.Throttle)
	}
	return nil
}

// CampaignFilter provides filter fields for repository queries
type CampaignFilter struct {
	ID            *uint
	UUID          *uuid.UUID
	Name          *string
	CreatedBy     *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
