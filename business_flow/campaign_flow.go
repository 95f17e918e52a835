// Package businessflow contains the core business logic and use cases for campaign workflows
package businessflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/textlane/dispatchd/app/dto"
	"github.com/textlane/dispatchd/models"
	"github.com/textlane/dispatchd/repository"
)

// CampaignFlow handles the campaign business logic
type CampaignFlow interface {
	CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest, metadata *ClientMetadata) (*dto.CreateCampaignResponse, error)
	ListCampaigns(ctx context.Context, req *dto.ListCampaignsRequest, metadata *ClientMetadata) (*dto.ListCampaignsResponse, error)
	DeleteCampaigns(ctx context.Context, req *dto.DeleteCampaignsRequest, metadata *ClientMetadata) (*dto.DeleteCampaignsResponse, error)
}

// CampaignFlowImpl implements the campaign business flow
type CampaignFlowImpl struct {
	campaignRepo repository.CampaignRepository
	contactRepo  repository.ContactRepository
	db           *gorm.DB
}

// NewCampaignFlow creates a new campaign flow instance
func NewCampaignFlow(
	campaignRepo repository.CampaignRepository,
	contactRepo repository.ContactRepository,
	db *gorm.DB,
) CampaignFlow {
	return &CampaignFlowImpl{
		campaignRepo: campaignRepo,
		contactRepo:  contactRepo,
		db:           db,
	}
}

// CreateCampaign handles the complete campaign creation process
func (s *CampaignFlowImpl) CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest, metadata *ClientMetadata) (*dto.CreateCampaignResponse, error) {
	campaign := &models.Campaign{
		UUID:          uuid.New(),
		Name:          req.Name,
		Message:       req.Message,
		SenderMSISDN:  req.SenderMSISDN,
		ContactGroups: req.ContactGroups,
		IncludeOptOut: req.IncludeOptOut,
		BatchSize:     models.BatchSize(req.BatchSize),
		BufferTime:    models.BufferTime(req.BufferTime),
		Throttle:      models.ThrottleLevel(req.Throttle),
		CreatedBy:     req.UserID,
	}
	if err := campaign.Validate(); err != nil {
		return nil, NewBusinessError("CAMPAIGN_VALIDATION_FAILED", "Campaign validation failed", err)
	}

	// Every referenced contact group must exist for the user; a typo here
	// would otherwise surface later as a silently shrunken audience.
	if err := s.validateContactGroups(ctx, req.UserID, req.ContactGroups); err != nil {
		return nil, NewBusinessError("CAMPAIGN_VALIDATION_FAILED", "Campaign validation failed", err)
	}

	err := repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		return s.campaignRepo.Save(txCtx, campaign)
	})
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_CREATION_FAILED", "Campaign creation failed", err)
	}

	return &dto.CreateCampaignResponse{
		Message:   "Campaign created successfully",
		UUID:      campaign.UUID.String(),
		CreatedAt: campaign.CreatedAt.Format(time.RFC3339),
	}, nil
}

func (s *CampaignFlowImpl) validateContactGroups(ctx context.Context, userID string, groups []string) error {
	known, err := s.contactRepo.DistinctGroups(ctx, userID)
	if err != nil {
		return fmt.Errorf("list contact groups: %w", err)
	}
	knownSet := make(map[string]struct{}, len(known))
	for _, g := range known {
		knownSet[g] = struct{}{}
	}
	for _, g := range groups {
		if _, ok := knownSet[g]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownContactGroup, g)
		}
	}
	return nil
}

// ListCampaigns returns the user's campaigns, newest first
func (s *CampaignFlowImpl) ListCampaigns(ctx context.Context, req *dto.ListCampaignsRequest, metadata *ClientMetadata) (*dto.ListCampaignsResponse, error) {
	page, pageSize, err := normalizePage(req.Page, req.PageSize)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LIST_VALIDATION_FAILED", "Invalid pagination", err)
	}

	campaigns, err := s.campaignRepo.ListByOwner(ctx, req.UserID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LIST_FAILED", "Failed to list campaigns", err)
	}
	total, err := s.campaignRepo.Count(ctx, models.CampaignFilter{CreatedBy: &req.UserID})
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LIST_FAILED", "Failed to count campaigns", err)
	}

	items := make([]dto.CampaignDTO, 0, len(campaigns))
	for _, c := range campaigns {
		items = append(items, dto.CampaignDTO{
			UUID:          c.UUID.String(),
			Name:          c.Name,
			Message:       c.Message,
			SenderMSISDN:  c.SenderMSISDN,
			ContactGroups: c.ContactGroups,
			IncludeOptOut: c.IncludeOptOut,
			BatchSize:     int(c.BatchSize),
			BufferTime:    int(c.BufferTime),
			Throttle:      c.Throttle.String(),
			CreatedAt:     c.CreatedAt,
		})
	}

	return &dto.ListCampaignsResponse{Items: items, Total: total}, nil
}

// DeleteCampaigns removes the listed campaigns. Only campaigns owned by the
// requester are considered; unknown UUIDs are ignored rather than failing
// the whole batch.
func (s *CampaignFlowImpl) DeleteCampaigns(ctx context.Context, req *dto.DeleteCampaignsRequest, metadata *ClientMetadata) (*dto.DeleteCampaignsResponse, error) {
	campaigns, err := s.campaignRepo.ListByUUIDs(ctx, req.UUIDs, req.UserID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_DELETE_FAILED", "Failed to lookup campaigns", err)
	}
	if len(campaigns) == 0 {
		return &dto.DeleteCampaignsResponse{Message: "No campaigns deleted", Deleted: 0}, nil
	}

	ids := make([]uint, 0, len(campaigns))
	for _, c := range campaigns {
		ids = append(ids, c.ID)
	}

	var deleted int64
	err = repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		var err error
		deleted, err = s.campaignRepo.DeleteByIDs(txCtx, ids)
		return err
	})
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_DELETE_FAILED", "Campaign deletion failed", err)
	}

	return &dto.DeleteCampaignsResponse{
		Message: fmt.Sprintf("Deleted %d campaigns", deleted),
		Deleted: deleted,
	}, nil
}

func normalizePage(page, pageSize int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = 20
	}
	if page < 1 {
		return 0, 0, ErrInvalidPage
	}
	if pageSize < 1 || pageSize > 100 {
		return 0, 0, ErrInvalidPageSize
	}
	return page, pageSize, nil
}
