// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/textlane/dispatchd/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// CampaignRepository defines operations for campaigns
type CampaignRepository interface {
	Repository[models.Campaign, models.CampaignFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Campaign, error)
	ListByUUIDs(ctx context.Context, uuids []string, createdBy string) ([]*models.Campaign, error)
	ListByIDs(ctx context.Context, ids []uint) ([]*models.Campaign, error)
	ListByOwner(ctx context.Context, createdBy string, limit, offset int) ([]*models.Campaign, error)
	DeleteByIDs(ctx context.Context, ids []uint) (int64, error)
}

// QueueEntryRepository defines operations for queue entries. Status and
// cursor mutations are compare-and-set so a control command racing the
// dispatcher's own transition can never be lost or applied twice.
type QueueEntryRepository interface {
	Repository[models.QueueEntry, models.QueueEntryFilter]
	ByUUID(ctx context.Context, uuid string) (*models.QueueEntry, error)
	ListByOwner(ctx context.Context, createdBy string, limit, offset int) ([]*models.QueueEntry, error)
	ListActive(ctx context.Context) ([]*models.QueueEntry, error)
	// UpdateStatusCAS moves the entry from expected to next and bumps
	// updated_at. Returns false (no error) when the row no longer holds the
	// expected status.
	UpdateStatusCAS(ctx context.Context, entryID uint, expected, next models.QueueStatus) (bool, error)
	// AdvanceBatchCAS increments current_batch from expected while the entry
	// is still in_progress. Returns false when the precondition fails.
	AdvanceBatchCAS(ctx context.Context, entryID uint, expectedBatch int) (bool, error)
	DeleteByIDs(ctx context.Context, ids []uint) (int64, error)
}

// DeliveryRecordRepository defines operations for per-recipient delivery records
type DeliveryRecordRepository interface {
	Repository[models.DeliveryRecord, models.DeliveryRecordFilter]
	ByGatewayMessageID(ctx context.Context, messageID string) (*models.DeliveryRecord, error)
	ListByEntry(ctx context.Context, queueEntryID uint, limit, offset int) ([]*models.DeliveryRecord, error)
	ListByEntryAndBatch(ctx context.Context, queueEntryID uint, batchIndex int) ([]*models.DeliveryRecord, error)
	UpdateStatus(ctx context.Context, recordID uint, status models.DeliveryStatus, errMsg *string, at time.Time) error
	DeleteByEntryIDs(ctx context.Context, queueEntryIDs []uint) (int64, error)
}

// ContactRepository defines the read surface the recipient resolver needs
type ContactRepository interface {
	Repository[models.Contact, models.ContactFilter]
	ListByGroup(ctx context.Context, createdBy, group string) ([]*models.Contact, error)
	DistinctGroups(ctx context.Context, createdBy string) ([]string, error)
}

// DNCRepository defines the read surface for do-not-call exclusions
type DNCRepository interface {
	Repository[models.DNCEntry, models.DNCEntryFilter]
	// ListNumbers returns every excluded number visible to the user: their
	// own entries plus all platform-scoped ones.
	ListNumbers(ctx context.Context, createdBy string) ([]string, error)
}
