// Package businessflow contains the core business logic and use cases for queue workflows
package businessflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/textlane/dispatchd/app/dispatch"
	"github.com/textlane/dispatchd/app/dto"
	"github.com/textlane/dispatchd/models"
	"github.com/textlane/dispatchd/repository"
	"github.com/textlane/dispatchd/utils"
)

// DispatchNotifier pokes the dispatcher after queue mutations so new or
// resumed entries are picked up without waiting for the next poll tick
type DispatchNotifier interface {
	Wake()
}

// QueueFlow handles the dispatch queue business logic
type QueueFlow interface {
	Enqueue(ctx context.Context, req *dto.EnqueueCampaignsRequest, metadata *ClientMetadata) (*dto.EnqueueCampaignsResponse, error)
	ListQueue(ctx context.Context, req *dto.ListQueueRequest, metadata *ClientMetadata) (*dto.ListQueueResponse, error)
	UpdateStatuses(ctx context.Context, req *dto.UpdateQueueRequest, metadata *ClientMetadata) (*dto.UpdateQueueResponse, error)
	DeleteEntries(ctx context.Context, req *dto.DeleteQueueRequest, metadata *ClientMetadata) (*dto.DeleteQueueResponse, error)
	HandleReceipt(ctx context.Context, req *dto.DeliveryReceiptRequest) (*dto.DeliveryReceiptResponse, error)
	ExportReport(ctx context.Context, userID, entryUUID string) ([]byte, string, error)
}

// QueueFlowImpl implements the queue business flow
type QueueFlowImpl struct {
	queueRepo    repository.QueueEntryRepository
	campaignRepo repository.CampaignRepository
	deliveryRepo repository.DeliveryRecordRepository
	resolver     *dispatch.Resolver
	machine      *dispatch.Machine
	notifier     DispatchNotifier
	db           *gorm.DB
}

// NewQueueFlow creates a new queue flow instance
func NewQueueFlow(
	queueRepo repository.QueueEntryRepository,
	campaignRepo repository.CampaignRepository,
	deliveryRepo repository.DeliveryRecordRepository,
	resolver *dispatch.Resolver,
	machine *dispatch.Machine,
	notifier DispatchNotifier,
	db *gorm.DB,
) QueueFlow {
	return &QueueFlowImpl{
		queueRepo:    queueRepo,
		campaignRepo: campaignRepo,
		deliveryRepo: deliveryRepo,
		resolver:     resolver,
		machine:      machine,
		notifier:     notifier,
		db:           db,
	}
}

// Enqueue resolves each campaign's audience, freezes it into a snapshot and
// creates one scheduled queue entry per campaign. The whole request is
// atomic: one empty audience or unknown campaign fails all of it.
func (s *QueueFlowImpl) Enqueue(ctx context.Context, req *dto.EnqueueCampaignsRequest, metadata *ClientMetadata) (*dto.EnqueueCampaignsResponse, error) {
	if req.ScheduledStart != nil && req.ScheduledStart.Before(utils.UTCNow()) {
		return nil, NewBusinessError("QUEUE_VALIDATION_FAILED", "Scheduled start is in the past", ErrScheduleTimeInPast)
	}

	campaigns, err := s.campaignRepo.ListByUUIDs(ctx, req.CampaignUUIDs, req.UserID)
	if err != nil {
		return nil, NewBusinessError("QUEUE_CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaigns", err)
	}
	if len(campaigns) != len(req.CampaignUUIDs) {
		return nil, NewBusinessError("QUEUE_CAMPAIGN_NOT_FOUND", "One or more campaigns not found", ErrCampaignNotFound)
	}

	entries := make([]*models.QueueEntry, 0, len(campaigns))
	results := make([]dto.EnqueuedEntryDTO, 0, len(campaigns))
	for _, campaign := range campaigns {
		snapshot, err := s.resolver.Resolve(ctx, campaign)
		if err != nil {
			return nil, NewBusinessError("QUEUE_RESOLVE_FAILED", "Failed to resolve recipients", err)
		}
		if len(snapshot) == 0 {
			return nil, NewBusinessErrorf("QUEUE_EMPTY_AUDIENCE",
				"Campaign %s has no recipients after exclusions", ErrEmptyAudience, campaign.UUID)
		}

		plan := dispatch.NewPlan(snapshot, campaign.BatchSize)
		entry := &models.QueueEntry{
			UUID:           uuid.New(),
			CampaignID:     campaign.ID,
			Status:         models.QueueStatusScheduled,
			CurrentBatch:   0,
			TotalBatches:   plan.TotalBatches(),
			Snapshot:       snapshot,
			ScheduledStart: req.ScheduledStart,
			CreatedBy:      req.UserID,
		}
		entries = append(entries, entry)
		results = append(results, dto.EnqueuedEntryDTO{
			CampaignUUID:    campaign.UUID.String(),
			Status:          entry.Status.String(),
			TotalBatches:    entry.TotalBatches,
			TotalRecipients: len(snapshot),
		})
	}

	err = repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		return s.queueRepo.SaveBatch(txCtx, entries)
	})
	if err != nil {
		return nil, NewBusinessError("QUEUE_ENQUEUE_FAILED", "Failed to enqueue campaigns", err)
	}

	for i, entry := range entries {
		results[i].UUID = entry.UUID.String()
	}
	if s.notifier != nil {
		s.notifier.Wake()
	}

	return &dto.EnqueueCampaignsResponse{
		Message: fmt.Sprintf("Queued %d campaigns", len(entries)),
		Entries: results,
	}, nil
}

// ListQueue returns the user's queue entries with their campaign names
func (s *QueueFlowImpl) ListQueue(ctx context.Context, req *dto.ListQueueRequest, metadata *ClientMetadata) (*dto.ListQueueResponse, error) {
	page, pageSize, err := normalizePage(req.Page, req.PageSize)
	if err != nil {
		return nil, NewBusinessError("QUEUE_LIST_VALIDATION_FAILED", "Invalid pagination", err)
	}

	filter := models.QueueEntryFilter{CreatedBy: &req.UserID}
	if req.Status != "" {
		status := models.QueueStatus(req.Status)
		if !status.Valid() {
			return nil, NewBusinessErrorf("QUEUE_LIST_VALIDATION_FAILED",
				"Unknown queue status %q", nil, req.Status)
		}
		filter.Status = &status
	}

	entries, err := s.queueRepo.ByFilter(ctx, filter, "id DESC", pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("QUEUE_LIST_FAILED", "Failed to list queue entries", err)
	}
	total, err := s.queueRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("QUEUE_LIST_FAILED", "Failed to count queue entries", err)
	}

	campaignIDs := make([]uint, 0, len(entries))
	seen := make(map[uint]struct{}, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.CampaignID]; !ok {
			seen[e.CampaignID] = struct{}{}
			campaignIDs = append(campaignIDs, e.CampaignID)
		}
	}
	campaigns, err := s.campaignRepo.ListByIDs(ctx, campaignIDs)
	if err != nil {
		return nil, NewBusinessError("QUEUE_LIST_FAILED", "Failed to load campaigns", err)
	}
	byID := make(map[uint]*models.Campaign, len(campaigns))
	for _, c := range campaigns {
		byID[c.ID] = c
	}

	items := make([]dto.QueueEntryDTO, 0, len(entries))
	for _, e := range entries {
		item := dto.QueueEntryDTO{
			UUID:            e.UUID.String(),
			Status:          e.Status.String(),
			CurrentBatch:    e.CurrentBatch,
			TotalBatches:    e.TotalBatches,
			TotalRecipients: len(e.Snapshot),
			ScheduledStart:  e.ScheduledStart,
			CreatedAt:       e.CreatedAt,
			UpdatedAt:       e.UpdatedAt,
		}
		if c, ok := byID[e.CampaignID]; ok {
			item.CampaignUUID = c.UUID.String()
			item.CampaignName = c.Name
		}
		items = append(items, item)
	}

	return &dto.ListQueueResponse{Items: items, Total: total}, nil
}

// UpdateStatuses applies the requested transitions one by one. Each entry
// reports its own outcome; a refused transition does not abort the rest.
// Requesting the status an entry already holds is an idempotent no-op.
func (s *QueueFlowImpl) UpdateStatuses(ctx context.Context, req *dto.UpdateQueueRequest, metadata *ClientMetadata) (*dto.UpdateQueueResponse, error) {
	results := make([]dto.QueueUpdateResultDTO, 0, len(req.Updates))
	anyResumed := false

	for _, update := range req.Updates {
		result := dto.QueueUpdateResultDTO{UUID: update.UUID}

		entry, err := s.queueRepo.ByUUID(ctx, update.UUID)
		if err != nil {
			result.Error = "lookup failed"
			results = append(results, result)
			continue
		}
		if entry == nil || entry.CreatedBy != req.UserID {
			result.Error = ErrQueueEntryNotFound.Error()
			results = append(results, result)
			continue
		}

		next := models.QueueStatus(update.Status)
		applied, err := s.machine.Apply(ctx, entry, next)
		if err != nil {
			var te *dispatch.TransitionError
			if errors.As(err, &te) {
				result.Error = fmt.Sprintf("%s: %s", ErrInvalidTransition.Error(), te.Error())
			} else {
				result.Error = err.Error()
			}
			result.Status = entry.Status.String()
			results = append(results, result)
			continue
		}

		result.Applied = applied
		result.Status = entry.Status.String()
		results = append(results, result)
		if applied && next == models.QueueStatusInProgress {
			anyResumed = true
		}
	}

	if anyResumed && s.notifier != nil {
		s.notifier.Wake()
	}

	return &dto.UpdateQueueResponse{
		Message: fmt.Sprintf("Processed %d updates", len(results)),
		Results: results,
	}, nil
}

// DeleteEntries removes finished queue entries and their delivery records.
// Active entries (scheduled, in progress, paused) must be cancelled first.
func (s *QueueFlowImpl) DeleteEntries(ctx context.Context, req *dto.DeleteQueueRequest, metadata *ClientMetadata) (*dto.DeleteQueueResponse, error) {
	ids := make([]uint, 0, len(req.UUIDs))
	for _, u := range req.UUIDs {
		entry, err := s.queueRepo.ByUUID(ctx, u)
		if err != nil {
			return nil, NewBusinessError("QUEUE_DELETE_FAILED", "Failed to lookup queue entry", err)
		}
		if entry == nil || entry.CreatedBy != req.UserID {
			continue
		}
		if !entry.Status.Terminal() {
			return nil, NewBusinessErrorf("QUEUE_ENTRY_STILL_ACTIVE",
				"Queue entry %s is %s; cancel it before deleting", ErrEntryStillActive, u, entry.Status)
		}
		ids = append(ids, entry.ID)
	}
	if len(ids) == 0 {
		return &dto.DeleteQueueResponse{Message: "No queue entries deleted", Deleted: 0}, nil
	}

	var deleted int64
	err := repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		if _, err := s.deliveryRepo.DeleteByEntryIDs(txCtx, ids); err != nil {
			return err
		}
		var err error
		deleted, err = s.queueRepo.DeleteByIDs(txCtx, ids)
		return err
	})
	if err != nil {
		return nil, NewBusinessError("QUEUE_DELETE_FAILED", "Queue entry deletion failed", err)
	}

	return &dto.DeleteQueueResponse{
		Message: fmt.Sprintf("Deleted %d queue entries", deleted),
		Deleted: deleted,
	}, nil
}

// HandleReceipt applies a gateway delivery receipt to its delivery record
func (s *QueueFlowImpl) HandleReceipt(ctx context.Context, req *dto.DeliveryReceiptRequest) (*dto.DeliveryReceiptResponse, error) {
	record, err := s.deliveryRepo.ByGatewayMessageID(ctx, req.GatewayMessageID)
	if err != nil {
		return nil, NewBusinessError("RECEIPT_LOOKUP_FAILED", "Failed to lookup delivery record", err)
	}
	if record == nil {
		return nil, NewBusinessError("RECEIPT_RECORD_NOT_FOUND", "Delivery record not found", ErrDeliveryRecordNotFound)
	}

	status := models.DeliveryStatus(req.Status)
	var errMsg *string
	if req.Description != "" {
		errMsg = &req.Description
	}
	if err := s.deliveryRepo.UpdateStatus(ctx, record.ID, status, errMsg, utils.UTCNow()); err != nil {
		return nil, NewBusinessError("RECEIPT_UPDATE_FAILED", "Failed to apply receipt", err)
	}

	return &dto.DeliveryReceiptResponse{Message: "Receipt applied"}, nil
}

// ExportReport renders an xlsx delivery report for one queue entry
func (s *QueueFlowImpl) ExportReport(ctx context.Context, userID, entryUUID string) ([]byte, string, error) {
	entry, err := s.queueRepo.ByUUID(ctx, entryUUID)
	if err != nil {
		return nil, "", NewBusinessError("REPORT_LOOKUP_FAILED", "Failed to lookup queue entry", err)
	}
	if entry == nil || entry.CreatedBy != userID {
		return nil, "", NewBusinessError("REPORT_ENTRY_NOT_FOUND", "Queue entry not found", ErrQueueEntryNotFound)
	}

	records, err := s.deliveryRepo.ListByEntry(ctx, entry.ID, 0, 0)
	if err != nil {
		return nil, "", NewBusinessError("REPORT_LIST_FAILED", "Failed to list delivery records", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Deliveries"
	f.SetSheetName("Sheet1", sheet)
	headers := []string{"Recipient", "Batch", "Status", "Gateway Message ID", "Error", "Sent At"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}
	for row, rec := range records {
		values := []any{
			rec.Recipient,
			rec.BatchIndex + 1,
			rec.Status.String(),
			deref(rec.GatewayMessageID),
			deref(rec.Error),
			"",
		}
		if rec.SentAt != nil {
			values[5] = rec.SentAt.Format("2006-01-02 15:04:05")
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, "", NewBusinessError("REPORT_RENDER_FAILED", "Failed to render report", err)
	}

	filename := fmt.Sprintf("delivery-report-%s.xlsx", entry.UUID)
	return buf.Bytes(), filename, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
