package businessflow

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/textlane/dispatchd/app/dto"
	"github.com/textlane/dispatchd/models"
	"github.com/textlane/dispatchd/repository"
)

func (s *stubCampaignRepo) ListByOwner(context.Context, string, int, int) ([]*models.Campaign, error) {
	return s.campaigns, nil
}

func (s *stubCampaignRepo) Count(context.Context, models.CampaignFilter) (int64, error) {
	return int64(len(s.campaigns)), nil
}

type stubContactRepo struct {
	repository.ContactRepository
	groups []string
}

func (s *stubContactRepo) DistinctGroups(context.Context, string) ([]string, error) {
	return s.groups, nil
}

func validCreateRequest() *dto.CreateCampaignRequest {
	return &dto.CreateCampaignRequest{
		UserID:        "user-1",
		Name:          "spring promo",
		Message:       "Hi {name}!",
		SenderMSISDN:  "+15550009999",
		ContactGroups: []string{"customers"},
		BatchSize:     100,
		BufferTime:    2,
		Throttle:      "medium",
	}
}

func TestCreateCampaignRejectsInvalidPolicy(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*dto.CreateCampaignRequest)
	}{
		{"unsupported batch size", func(r *dto.CreateCampaignRequest) { r.BatchSize = 75 }},
		{"unsupported buffer time", func(r *dto.CreateCampaignRequest) { r.BufferTime = 3 }},
		{"unknown throttle level", func(r *dto.CreateCampaignRequest) { r.Throttle = "turbo" }},
		{"empty message", func(r *dto.CreateCampaignRequest) { r.Message = "" }},
		{"no contact groups", func(r *dto.CreateCampaignRequest) { r.ContactGroups = nil }},
	}

	flow := NewCampaignFlow(&stubCampaignRepo{}, &stubContactRepo{groups: []string{"customers"}}, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreateRequest()
			tt.mutate(req)
			_, err := flow.CreateCampaign(context.Background(), req, nil)
			require.Error(t, err)

			var businessErr *BusinessError
			require.ErrorAs(t, err, &businessErr)
			assert.Equal(t, "CAMPAIGN_VALIDATION_FAILED", businessErr.Code)
		})
	}
}

func TestCreateCampaignRejectsUnknownContactGroup(t *testing.T) {
	flow := NewCampaignFlow(&stubCampaignRepo{}, &stubContactRepo{groups: []string{"customers"}}, nil)

	req := validCreateRequest()
	req.ContactGroups = []string{"customers", "no-such-group"}
	_, err := flow.CreateCampaign(context.Background(), req, nil)

	require.Error(t, err)
	assert.True(t, IsUnknownContactGroup(err))
	assert.Contains(t, err.Error(), "no-such-group")
}

func TestListCampaigns(t *testing.T) {
	campaign := &models.Campaign{
		UUID:          uuid.New(),
		Name:          "spring promo",
		Message:       "Hi {name}!",
		SenderMSISDN:  "+15550009999",
		ContactGroups: []string{"customers"},
		BatchSize:     models.BatchSizeSmall,
		BufferTime:    models.BufferModerate,
		Throttle:      models.ThrottleMedium,
		CreatedBy:     "user-1",
	}
	flow := NewCampaignFlow(&stubCampaignRepo{campaigns: []*models.Campaign{campaign}}, &stubContactRepo{}, nil)

	resp, err := flow.ListCampaigns(context.Background(), &dto.ListCampaignsRequest{UserID: "user-1"}, nil)
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, int64(1), resp.Total)
	assert.Equal(t, campaign.UUID.String(), resp.Items[0].UUID)
	assert.Equal(t, 100, resp.Items[0].BatchSize)
	assert.Equal(t, "medium", resp.Items[0].Throttle)
}

func TestListCampaignsRejectsBadPagination(t *testing.T) {
	flow := NewCampaignFlow(&stubCampaignRepo{}, &stubContactRepo{}, nil)

	tests := []struct {
		name     string
		page     int
		pageSize int
	}{
		{"negative page", -1, 20},
		{"oversized page size", 1, 500},
		{"negative page size", 1, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := flow.ListCampaigns(context.Background(), &dto.ListCampaignsRequest{
				UserID:   "user-1",
				Page:     tt.page,
				PageSize: tt.pageSize,
			}, nil)
			require.Error(t, err)
		})
	}
}

func TestDeleteCampaignsNoMatches(t *testing.T) {
	flow := NewCampaignFlow(&stubCampaignRepo{}, &stubContactRepo{}, nil)

	resp, err := flow.DeleteCampaigns(context.Background(), &dto.DeleteCampaignsRequest{
		UserID: "user-1",
		UUIDs:  []string{uuid.NewString()},
	}, nil)
	require.NoError(t, err)
	assert.Zero(t, resp.Deleted)
}

func TestNormalizePageDefaults(t *testing.T) {
	page, pageSize, err := normalizePage(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page)
	assert.Equal(t, 20, pageSize)
}
