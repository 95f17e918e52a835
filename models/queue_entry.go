package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QueueStatus represents the lifecycle status of a queue entry
type QueueStatus string

const (
	QueueStatusScheduled  QueueStatus = "scheduled"
	QueueStatusInProgress QueueStatus = "in_progress"
	QueueStatusPaused     QueueStatus = "paused"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusCancelled  QueueStatus = "cancelled"
	QueueStatusFailed     QueueStatus = "failed"
)

// String returns the string representation of the status
func (s QueueStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s QueueStatus) Valid() bool {
	switch s {
	case QueueStatusScheduled, QueueStatusInProgress, QueueStatusPaused,
		QueueStatusCompleted, QueueStatusCancelled, QueueStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition may leave this status
func (s QueueStatus) Terminal() bool {
	switch s {
	case QueueStatusCompleted, QueueStatusCancelled, QueueStatusFailed:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for QueueStatus
func (s *QueueStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = QueueStatus(v)
	case []byte:
		*s = QueueStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into QueueStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for QueueStatus
func (s QueueStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid QueueStatus: %s", s)
	}
	return string(s), nil
}

// CanTransitionTo reports whether this status may move to next. Terminal
// statuses admit no successors; the self-transition case (idempotent command
// retry) is handled by the state machine, not here.
func (s QueueStatus) CanTransitionTo(next QueueStatus) bool {
	switch s {
	case QueueStatusScheduled:
		return next == QueueStatusInProgress || next == QueueStatusCancelled
	case QueueStatusInProgress:
		return next == QueueStatusPaused || next == QueueStatusCancelled ||
			next == QueueStatusCompleted || next == QueueStatusFailed
	case QueueStatusPaused:
		return next == QueueStatusInProgress || next == QueueStatusCancelled
	default:
		return false
	}
}

// SnapshotRecipient is a single entry of a frozen recipient snapshot. The
// name rides along so the dispatcher can render personalization placeholders
// without consulting the contact store again.
type SnapshotRecipient struct {
	PhoneNumber string `json:"phone_number"`
	Name        string `json:"name,omitempty"`
}

// RecipientSnapshot is the deduplicated, opt-out-filtered recipient list
// resolved at enqueue time. It is frozen once computed so later edits to
// contact groups do not change an in-flight entry's audience.
type RecipientSnapshot []SnapshotRecipient

// Value implements the driver.Valuer interface for RecipientSnapshot
func (r RecipientSnapshot) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements the sql.Scanner interface for RecipientSnapshot
func (r *RecipientSnapshot) Scan(value any) error {
	if value == nil {
		*r = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into RecipientSnapshot", value)
	}

	return json.Unmarshal(bytes, r)
}

// QueueEntry represents one scheduled/running/finished dispatch attempt of a
// campaign. A campaign may have any number of entries; re-queueing creates a
// new one.
type QueueEntry struct {
	ID             uint              `gorm:"primaryKey" json:"id"`
	UUID           uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:uk_queue_entries_uuid" json:"uuid"`
	CampaignID     uint              `gorm:"not null;index:idx_queue_entries_campaign_id" json:"campaign_id"`
	Status         QueueStatus       `gorm:"type:queue_status;not null;default:'scheduled';index:idx_queue_entries_status" json:"status"`
	CurrentBatch   int               `gorm:"not null;default:0" json:"current_batch"`
	TotalBatches   int               `gorm:"not null" json:"total_batches"`
	Snapshot       RecipientSnapshot `gorm:"type:jsonb;not null" json:"snapshot"`
	ScheduledStart *time.Time        `json:"scheduled_start,omitempty"`
	CreatedBy      string            `gorm:"size:64;not null;index:idx_queue_entries_created_by" json:"created_by"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (QueueEntry) TableName() string { return "queue_entries" }

// Exhausted reports whether every batch of the entry has been dispatched
func (e *QueueEntry) Exhausted() bool {
	return e.CurrentBatch >= e.TotalBatches
}

// DueAt returns the effective start time; nil ScheduledStart means immediately
func (e *QueueEntry) DueAt() time.Time {
	if e.ScheduledStart == nil {
		return e.CreatedAt
	}
	return *e.ScheduledStart
}

// QueueEntryFilter provides filter fields for repository queries
type QueueEntryFilter struct {
	ID            *uint
	UUID          *uuid.UUID
	CampaignID    *uint
	Status        *QueueStatus
	CreatedBy     *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
