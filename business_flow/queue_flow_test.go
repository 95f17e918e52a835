package businessflow

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/textlane/dispatchd/app/dispatch"
	"github.com/textlane/dispatchd/app/dto"
	"github.com/textlane/dispatchd/models"
	"github.com/textlane/dispatchd/repository"
	"github.com/textlane/dispatchd/utils"
)

// The fakes embed their repository interface so only the methods a test
// actually exercises need an implementation; calling anything else panics,
// which is exactly what we want from a unit test.

type stubQueueRepo struct {
	repository.QueueEntryRepository
	byUUID  map[string]*models.QueueEntry
	entries []*models.QueueEntry
	total   int64
}

func (s *stubQueueRepo) ByUUID(_ context.Context, u string) (*models.QueueEntry, error) {
	return s.byUUID[u], nil
}

func (s *stubQueueRepo) ByID(_ context.Context, id uint) (*models.QueueEntry, error) {
	for _, e := range s.byUUID {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

func (s *stubQueueRepo) UpdateStatusCAS(_ context.Context, entryID uint, expected, next models.QueueStatus) (bool, error) {
	for _, e := range s.byUUID {
		if e.ID == entryID && e.Status == expected {
			e.Status = next
			return true, nil
		}
	}
	return false, nil
}

func (s *stubQueueRepo) ByFilter(context.Context, models.QueueEntryFilter, string, int, int) ([]*models.QueueEntry, error) {
	return s.entries, nil
}

func (s *stubQueueRepo) Count(context.Context, models.QueueEntryFilter) (int64, error) {
	return s.total, nil
}

type stubCampaignRepo struct {
	repository.CampaignRepository
	campaigns []*models.Campaign
}

func (s *stubCampaignRepo) ListByUUIDs(_ context.Context, uuids []string, createdBy string) ([]*models.Campaign, error) {
	var out []*models.Campaign
	for _, c := range s.campaigns {
		if c.CreatedBy != createdBy {
			continue
		}
		for _, u := range uuids {
			if c.UUID.String() == u {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (s *stubCampaignRepo) ListByIDs(_ context.Context, ids []uint) ([]*models.Campaign, error) {
	var out []*models.Campaign
	for _, c := range s.campaigns {
		for _, id := range ids {
			if c.ID == id {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

type stubDeliveryRepo struct {
	repository.DeliveryRecordRepository
	byMessageID map[string]*models.DeliveryRecord
	updated     []models.DeliveryStatus
}

func (s *stubDeliveryRepo) ByGatewayMessageID(_ context.Context, id string) (*models.DeliveryRecord, error) {
	return s.byMessageID[id], nil
}

func (s *stubDeliveryRepo) UpdateStatus(_ context.Context, _ uint, status models.DeliveryStatus, _ *string, _ time.Time) error {
	s.updated = append(s.updated, status)
	return nil
}

func (s *stubDeliveryRepo) ListByEntry(context.Context, uint, int, int) ([]*models.DeliveryRecord, error) {
	return []*models.DeliveryRecord{
		{
			Recipient:        "+15550000001",
			BatchIndex:       0,
			Status:           models.DeliveryStatusDelivered,
			GatewayMessageID: utils.ToPtr("msg-1"),
			SentAt:           utils.UTCNowPtr(),
		},
		{
			Recipient: "+15550000002",
			Status:    models.DeliveryStatusFailed,
			Error:     utils.ToPtr("number not routable"),
		},
	}, nil
}

type stubContacts struct{ contacts []*models.Contact }

func (s *stubContacts) ListByGroup(context.Context, string, string) ([]*models.Contact, error) {
	return s.contacts, nil
}

type stubDNC struct{}

func (stubDNC) ListNumbers(context.Context, string) ([]string, error) { return nil, nil }

type countingNotifier struct{ wakes int }

func (n *countingNotifier) Wake() { n.wakes++ }

func newTestQueueFlow(queueRepo *stubQueueRepo, campaignRepo *stubCampaignRepo, deliveryRepo *stubDeliveryRepo, contacts dispatch.ContactSource, notifier DispatchNotifier) QueueFlow {
	if contacts == nil {
		contacts = &stubContacts{}
	}
	resolver := dispatch.NewResolver(contacts, stubDNC{})
	machine := dispatch.NewMachine(queueRepo, nil)
	return NewQueueFlow(queueRepo, campaignRepo, deliveryRepo, resolver, machine, notifier, nil)
}

func TestEnqueueRejectsPastScheduledStart(t *testing.T) {
	flow := newTestQueueFlow(&stubQueueRepo{}, &stubCampaignRepo{}, &stubDeliveryRepo{}, nil, nil)

	past := utils.UTCNowAdd(-time.Hour)
	_, err := flow.Enqueue(context.Background(), &dto.EnqueueCampaignsRequest{
		UserID:         "user-1",
		CampaignUUIDs:  []string{uuid.NewString()},
		ScheduledStart: &past,
	}, nil)

	require.Error(t, err)
	assert.True(t, IsScheduleTimeInPast(err))
}

func TestEnqueueRejectsUnknownCampaign(t *testing.T) {
	flow := newTestQueueFlow(&stubQueueRepo{}, &stubCampaignRepo{}, &stubDeliveryRepo{}, nil, nil)

	_, err := flow.Enqueue(context.Background(), &dto.EnqueueCampaignsRequest{
		UserID:        "user-1",
		CampaignUUIDs: []string{uuid.NewString()},
	}, nil)

	require.Error(t, err)
	assert.True(t, IsCampaignNotFound(err))
}

func TestEnqueueRejectsForeignCampaign(t *testing.T) {
	campaign := &models.Campaign{ID: 1, UUID: uuid.New(), CreatedBy: "someone-else"}
	flow := newTestQueueFlow(&stubQueueRepo{}, &stubCampaignRepo{campaigns: []*models.Campaign{campaign}}, &stubDeliveryRepo{}, nil, nil)

	_, err := flow.Enqueue(context.Background(), &dto.EnqueueCampaignsRequest{
		UserID:        "user-1",
		CampaignUUIDs: []string{campaign.UUID.String()},
	}, nil)

	require.Error(t, err)
	assert.True(t, IsCampaignNotFound(err))
}

func TestEnqueueRejectsEmptyAudience(t *testing.T) {
	campaign := &models.Campaign{
		ID:            1,
		UUID:          uuid.New(),
		ContactGroups: []string{"customers"},
		BatchSize:     models.BatchSizeMini,
		CreatedBy:     "user-1",
	}
	flow := newTestQueueFlow(&stubQueueRepo{}, &stubCampaignRepo{campaigns: []*models.Campaign{campaign}}, &stubDeliveryRepo{}, &stubContacts{}, nil)

	_, err := flow.Enqueue(context.Background(), &dto.EnqueueCampaignsRequest{
		UserID:        "user-1",
		CampaignUUIDs: []string{campaign.UUID.String()},
	}, nil)

	require.Error(t, err)
	assert.True(t, IsEmptyAudience(err))
}

func TestListQueueJoinsCampaignNames(t *testing.T) {
	campaign := &models.Campaign{ID: 3, UUID: uuid.New(), Name: "spring promo", CreatedBy: "user-1"}
	entry := &models.QueueEntry{
		ID:           7,
		UUID:         uuid.New(),
		CampaignID:   3,
		Status:       models.QueueStatusInProgress,
		CurrentBatch: 1,
		TotalBatches: 4,
		Snapshot:     models.RecipientSnapshot{{PhoneNumber: "+15550000001"}},
		CreatedBy:    "user-1",
	}

	flow := newTestQueueFlow(
		&stubQueueRepo{entries: []*models.QueueEntry{entry}, total: 1},
		&stubCampaignRepo{campaigns: []*models.Campaign{campaign}},
		&stubDeliveryRepo{}, nil, nil,
	)

	resp, err := flow.ListQueue(context.Background(), &dto.ListQueueRequest{UserID: "user-1"}, nil)
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, int64(1), resp.Total)

	item := resp.Items[0]
	assert.Equal(t, entry.UUID.String(), item.UUID)
	assert.Equal(t, "spring promo", item.CampaignName)
	assert.Equal(t, campaign.UUID.String(), item.CampaignUUID)
	assert.Equal(t, "in_progress", item.Status)
	assert.Equal(t, 1, item.TotalRecipients)
}

func TestListQueueRejectsUnknownStatusFilter(t *testing.T) {
	flow := newTestQueueFlow(&stubQueueRepo{}, &stubCampaignRepo{}, &stubDeliveryRepo{}, nil, nil)

	_, err := flow.ListQueue(context.Background(), &dto.ListQueueRequest{
		UserID: "user-1",
		Status: "sleeping",
	}, nil)
	require.Error(t, err)
}

func TestUpdateStatusesMixedOutcomes(t *testing.T) {
	paused := &models.QueueEntry{ID: 1, UUID: uuid.New(), Status: models.QueueStatusPaused, CreatedBy: "user-1"}
	completed := &models.QueueEntry{ID: 2, UUID: uuid.New(), Status: models.QueueStatusCompleted, CreatedBy: "user-1"}
	foreign := &models.QueueEntry{ID: 3, UUID: uuid.New(), Status: models.QueueStatusPaused, CreatedBy: "someone-else"}

	queueRepo := &stubQueueRepo{byUUID: map[string]*models.QueueEntry{
		paused.UUID.String():    paused,
		completed.UUID.String(): completed,
		foreign.UUID.String():   foreign,
	}}
	notifier := &countingNotifier{}
	flow := newTestQueueFlow(queueRepo, &stubCampaignRepo{}, &stubDeliveryRepo{}, nil, notifier)

	resp, err := flow.UpdateStatuses(context.Background(), &dto.UpdateQueueRequest{
		UserID: "user-1",
		Updates: []dto.QueueStatusUpdate{
			{UUID: paused.UUID.String(), Status: "in_progress"},
			{UUID: completed.UUID.String(), Status: "cancelled"},
			{UUID: foreign.UUID.String(), Status: "paused"},
			{UUID: uuid.NewString(), Status: "cancelled"},
		},
	}, nil)
	require.NoError(t, err)
	require.Len(t, resp.Results, 4)

	// Resume applied and the dispatcher was woken
	assert.True(t, resp.Results[0].Applied)
	assert.Equal(t, "in_progress", resp.Results[0].Status)
	assert.Equal(t, 1, notifier.wakes)

	// Terminal entry refuses the transition but the batch continues
	assert.False(t, resp.Results[1].Applied)
	assert.Contains(t, resp.Results[1].Error, "invalid queue status transition")

	// Foreign and unknown entries both read as not found
	assert.Equal(t, ErrQueueEntryNotFound.Error(), resp.Results[2].Error)
	assert.Equal(t, ErrQueueEntryNotFound.Error(), resp.Results[3].Error)
}

func TestUpdateStatusesIdempotentRepeat(t *testing.T) {
	entry := &models.QueueEntry{ID: 1, UUID: uuid.New(), Status: models.QueueStatusPaused, CreatedBy: "user-1"}
	queueRepo := &stubQueueRepo{byUUID: map[string]*models.QueueEntry{entry.UUID.String(): entry}}
	notifier := &countingNotifier{}
	flow := newTestQueueFlow(queueRepo, &stubCampaignRepo{}, &stubDeliveryRepo{}, nil, notifier)

	resp, err := flow.UpdateStatuses(context.Background(), &dto.UpdateQueueRequest{
		UserID:  "user-1",
		Updates: []dto.QueueStatusUpdate{{UUID: entry.UUID.String(), Status: "paused"}},
	}, nil)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.False(t, resp.Results[0].Applied)
	assert.Empty(t, resp.Results[0].Error)
	assert.Zero(t, notifier.wakes)
}

func TestDeleteEntriesRefusesActiveEntry(t *testing.T) {
	active := &models.QueueEntry{ID: 1, UUID: uuid.New(), Status: models.QueueStatusInProgress, CreatedBy: "user-1"}
	queueRepo := &stubQueueRepo{byUUID: map[string]*models.QueueEntry{active.UUID.String(): active}}
	flow := newTestQueueFlow(queueRepo, &stubCampaignRepo{}, &stubDeliveryRepo{}, nil, nil)

	_, err := flow.DeleteEntries(context.Background(), &dto.DeleteQueueRequest{
		UserID: "user-1",
		UUIDs:  []string{active.UUID.String()},
	}, nil)

	require.Error(t, err)
	assert.True(t, IsEntryStillActive(err))
}

func TestDeleteEntriesSkipsUnknownUUIDs(t *testing.T) {
	flow := newTestQueueFlow(&stubQueueRepo{}, &stubCampaignRepo{}, &stubDeliveryRepo{}, nil, nil)

	resp, err := flow.DeleteEntries(context.Background(), &dto.DeleteQueueRequest{
		UserID: "user-1",
		UUIDs:  []string{uuid.NewString()},
	}, nil)
	require.NoError(t, err)
	assert.Zero(t, resp.Deleted)
}

func TestHandleReceipt(t *testing.T) {
	record := &models.DeliveryRecord{ID: 9, GatewayMessageID: utils.ToPtr("msg-9")}
	deliveryRepo := &stubDeliveryRepo{byMessageID: map[string]*models.DeliveryRecord{"msg-9": record}}
	flow := newTestQueueFlow(&stubQueueRepo{}, &stubCampaignRepo{}, deliveryRepo, nil, nil)

	_, err := flow.HandleReceipt(context.Background(), &dto.DeliveryReceiptRequest{
		GatewayMessageID: "msg-9",
		Status:           "delivered",
	})
	require.NoError(t, err)
	require.Len(t, deliveryRepo.updated, 1)
	assert.Equal(t, models.DeliveryStatusDelivered, deliveryRepo.updated[0])
}

func TestHandleReceiptUnknownMessage(t *testing.T) {
	flow := newTestQueueFlow(&stubQueueRepo{}, &stubCampaignRepo{}, &stubDeliveryRepo{}, nil, nil)

	_, err := flow.HandleReceipt(context.Background(), &dto.DeliveryReceiptRequest{
		GatewayMessageID: "no-such-message",
		Status:           "delivered",
	})
	require.Error(t, err)
	assert.True(t, IsDeliveryRecordNotFound(err))
}

func TestExportReport(t *testing.T) {
	entry := &models.QueueEntry{ID: 5, UUID: uuid.New(), Status: models.QueueStatusCompleted, CreatedBy: "user-1"}
	queueRepo := &stubQueueRepo{byUUID: map[string]*models.QueueEntry{entry.UUID.String(): entry}}
	flow := newTestQueueFlow(queueRepo, &stubCampaignRepo{}, &stubDeliveryRepo{}, nil, nil)

	content, filename, err := flow.ExportReport(context.Background(), "user-1", entry.UUID.String())
	require.NoError(t, err)
	assert.NotEmpty(t, content)
	assert.Equal(t, "delivery-report-"+entry.UUID.String()+".xlsx", filename)
}

func TestExportReportForeignEntry(t *testing.T) {
	entry := &models.QueueEntry{ID: 5, UUID: uuid.New(), Status: models.QueueStatusCompleted, CreatedBy: "someone-else"}
	queueRepo := &stubQueueRepo{byUUID: map[string]*models.QueueEntry{entry.UUID.String(): entry}}
	flow := newTestQueueFlow(queueRepo, &stubCampaignRepo{}, &stubDeliveryRepo{}, nil, nil)

	_, _, err := flow.ExportReport(context.Background(), "user-1", entry.UUID.String())
	require.Error(t, err)
	assert.True(t, IsQueueEntryNotFound(err))
}
