package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// DeliveryStatus enumerates the lifecycle of a single recipient submission.
// pending/sent/failed are set by the dispatcher at submission time;
// delivered/rejected arrive later through gateway receipt callbacks.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusRejected  DeliveryStatus = "rejected"
)

// String returns the string representation of the status
func (s DeliveryStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusSent, DeliveryStatusDelivered,
		DeliveryStatusFailed, DeliveryStatusRejected:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for DeliveryStatus
func (s *DeliveryStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = DeliveryStatus(v)
	case []byte:
		*s = DeliveryStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into DeliveryStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for DeliveryStatus
func (s DeliveryStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid DeliveryStatus: %s", s)
	}
	return string(s), nil
}

// DeliveryRecord records a single recipient submission under a queue entry
type DeliveryRecord struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	QueueEntryID     uint           `gorm:"not null;index:idx_delivery_records_queue_entry_id" json:"queue_entry_id"`
	Recipient        string         `gorm:"size:20;not null;index:idx_delivery_records_recipient" json:"recipient"`
	BatchIndex       int            `gorm:"not null" json:"batch_index"`
	Status           DeliveryStatus `gorm:"type:delivery_status;not null;default:'pending';index:idx_delivery_records_status" json:"status"`
	GatewayMessageID *string        `gorm:"size:64;index:idx_delivery_records_gateway_message_id" json:"gateway_message_id,omitempty"`
	Error            *string        `gorm:"type:text" json:"error,omitempty"`
	SentAt           *time.Time     `json:"sent_at,omitempty"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (DeliveryRecord) TableName() string { return "delivery_records" }

// DeliveryRecordFilter provides filter fields for repository queries
type DeliveryRecordFilter struct {
	ID               *uint
	QueueEntryID     *uint
	Recipient        *string
	BatchIndex       *int
	Status           *DeliveryStatus
	GatewayMessageID *string
	CreatedAfter     *time.Time
	CreatedBefore    *time.Time
}
