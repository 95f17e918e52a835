package dto

import (
	"time"
)

// EnqueueCampaignsRequest represents the request to queue campaigns for
// dispatch. Each listed campaign gets its own queue entry with a freshly
// resolved recipient snapshot.
type EnqueueCampaignsRequest struct {
	UserID         string     `json:"-"`
	CampaignUUIDs  []string   `json:"campaign_uuids" validate:"required,min=1,dive,uuid4"`
	ScheduledStart *time.Time `json:"scheduled_start,omitempty"`
}

// EnqueuedEntryDTO represents one created queue entry
type EnqueuedEntryDTO struct {
	UUID            string `json:"uuid"`
	CampaignUUID    string `json:"campaign_uuid"`
	Status          string `json:"status"`
	TotalBatches    int    `json:"total_batches"`
	TotalRecipients int    `json:"total_recipients"`
}

// EnqueueCampaignsResponse represents the response to queueing campaigns
type EnqueueCampaignsResponse struct {
	Message string             `json:"message"`
	Entries []EnqueuedEntryDTO `json:"entries"`
}

// QueueEntryDTO represents a queue entry in list responses
type QueueEntryDTO struct {
	UUID            string     `json:"uuid"`
	CampaignUUID    string     `json:"campaign_uuid"`
	CampaignName    string     `json:"campaign_name"`
	Status          string     `json:"status"`
	CurrentBatch    int        `json:"current_batch"`
	TotalBatches    int        `json:"total_batches"`
	TotalRecipients int        `json:"total_recipients"`
	ScheduledStart  *time.Time `json:"scheduled_start,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ListQueueRequest represents the request to list queue entries
type ListQueueRequest struct {
	UserID   string `json:"-"`
	Status   string `json:"-"`
	Page     int    `json:"-"`
	PageSize int    `json:"-"`
}

// ListQueueResponse represents the response to list queue entries
type ListQueueResponse struct {
	Items []QueueEntryDTO `json:"items"`
	Total int64           `json:"total"`
}

// QueueStatusUpdate represents one requested status change
type QueueStatusUpdate struct {
	UUID   string `json:"uuid" validate:"required,uuid4"`
	Status string `json:"status" validate:"required,oneof=in_progress paused cancelled"`
}

// UpdateQueueRequest represents the request to update queue entry statuses
type UpdateQueueRequest struct {
	UserID  string              `json:"-"`
	Updates []QueueStatusUpdate `json:"updates" validate:"required,min=1,dive"`
}

// QueueUpdateResultDTO represents the outcome of one status change
type QueueUpdateResultDTO struct {
	UUID    string `json:"uuid"`
	Status  string `json:"status,omitempty"`
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"`
}

// UpdateQueueResponse represents the response to a bulk status update
type UpdateQueueResponse struct {
	Message string                 `json:"message"`
	Results []QueueUpdateResultDTO `json:"results"`
}

// DeleteQueueRequest represents the request to delete queue entries
type DeleteQueueRequest struct {
	UserID string   `json:"-"`
	UUIDs  []string `json:"uuids" validate:"required,min=1,dive,uuid4"`
}

// DeleteQueueResponse represents the response to delete queue entries
type DeleteQueueResponse struct {
	Message string `json:"message"`
	Deleted int64  `json:"deleted"`
}

// DeliveryReceiptRequest represents a gateway delivery receipt callback
type DeliveryReceiptRequest struct {
	GatewayMessageID string `json:"message_id" validate:"required"`
	Status           string `json:"status" validate:"required,oneof=delivered rejected failed"`
	Description      string `json:"description,omitempty"`
}

// DeliveryReceiptResponse represents the response to a receipt callback
type DeliveryReceiptResponse struct {
	Message string `json:"message"`
}
