package dto

import (
	"time"
)

// CreateCampaignRequest represents the request to create a new campaign
type CreateCampaignRequest struct {
	UserID        string   `json:"-"`
	Name          string   `json:"name" validate:"required,min=1,max=255"`
	Message       string   `json:"message" validate:"required,min=1,max=1600"`
	SenderMSISDN  string   `json:"sender_msisdn" validate:"required,max=20"`
	ContactGroups []string `json:"contact_groups" validate:"required,min=1,dive,min=1"`
	IncludeOptOut bool     `json:"include_opt_out"`
	BatchSize     int      `json:"batch_size" validate:"required,oneof=50 100 150 200"`
	BufferTime    int      `json:"buffer_time" validate:"required,oneof=1 2 5"`
	Throttle      string   `json:"throttle" validate:"required,oneof=low medium high"`
}

// CreateCampaignResponse represents the response to create a new campaign
type CreateCampaignResponse struct {
	Message   string `json:"message"`
	UUID      string `json:"uuid"`
	CreatedAt string `json:"created_at"`
}

// CampaignDTO represents a campaign in list responses
type CampaignDTO struct {
	UUID          string    `json:"uuid"`
	Name          string    `json:"name"`
	Message       string    `json:"message"`
	SenderMSISDN  string    `json:"sender_msisdn"`
	ContactGroups []string  `json:"contact_groups"`
	IncludeOptOut bool      `json:"include_opt_out"`
	BatchSize     int       `json:"batch_size"`
	BufferTime    int       `json:"buffer_time"`
	Throttle      string    `json:"throttle"`
	CreatedAt     time.Time `json:"created_at"`
}

// ListCampaignsRequest represents the request to list campaigns
type ListCampaignsRequest struct {
	UserID   string `json:"-"`
	Page     int    `json:"-"`
	PageSize int    `json:"-"`
}

// ListCampaignsResponse represents the response to list campaigns
type ListCampaignsResponse struct {
	Items []CampaignDTO `json:"items"`
	Total int64         `json:"total"`
}

// DeleteCampaignsRequest represents the request to delete campaigns
type DeleteCampaignsRequest struct {
	UserID string   `json:"-"`
	UUIDs  []string `json:"uuids" validate:"required,min=1,dive,uuid4"`
}

// DeleteCampaignsResponse represents the response to delete campaigns
type DeleteCampaignsResponse struct {
	Message string `json:"message"`
	Deleted int64  `json:"deleted"`
}
