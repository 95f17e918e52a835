package repository

import (
	"context"
	"errors"
	"time"

	"github.com/textlane/dispatchd/models"
	"gorm.io/gorm"
)

// DeliveryRecordRepositoryImpl implements DeliveryRecordRepository
type DeliveryRecordRepositoryImpl struct {
	*BaseRepository[models.DeliveryRecord, models.DeliveryRecordFilter]
}

func NewDeliveryRecordRepository(db *gorm.DB) DeliveryRecordRepository {
	return &DeliveryRecordRepositoryImpl{BaseRepository: NewBaseRepository[models.DeliveryRecord, models.DeliveryRecordFilter](db)}
}

func (r *DeliveryRecordRepositoryImpl) ByID(ctx context.Context, id uint) (*models.DeliveryRecord, error) {
	db := r.getDB(ctx)
	var row models.DeliveryRecord
	if err := db.Last(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *DeliveryRecordRepositoryImpl) ByGatewayMessageID(ctx context.Context, messageID string) (*models.DeliveryRecord, error) {
	rows, err := r.ByFilter(ctx, models.DeliveryRecordFilter{GatewayMessageID: &messageID}, "id DESC", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *DeliveryRecordRepositoryImpl) ListByEntry(ctx context.Context, queueEntryID uint, limit, offset int) ([]*models.DeliveryRecord, error) {
	return r.ByFilter(ctx, models.DeliveryRecordFilter{QueueEntryID: &queueEntryID}, "id ASC", limit, offset)
}

func (r *DeliveryRecordRepositoryImpl) ListByEntryAndBatch(ctx context.Context, queueEntryID uint, batchIndex int) ([]*models.DeliveryRecord, error) {
	filter := models.DeliveryRecordFilter{QueueEntryID: &queueEntryID, BatchIndex: &batchIndex}
	return r.ByFilter(ctx, filter, "id ASC", 0, 0)
}

func (r *DeliveryRecordRepositoryImpl) UpdateStatus(ctx context.Context, recordID uint, status models.DeliveryStatus, errMsg *string, at time.Time) error {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}
	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				db.Commit()
			}
		}()
	}

	updates := map[string]any{
		"status":     status,
		"updated_at": at,
	}
	if errMsg != nil {
		updates["error"] = *errMsg
	}
	err = db.Model(&models.DeliveryRecord{}).Where("id = ?", recordID).Updates(updates).Error
	return err
}

func (r *DeliveryRecordRepositoryImpl) DeleteByEntryIDs(ctx context.Context, queueEntryIDs []uint) (int64, error) {
	if len(queueEntryIDs) == 0 {
		return 0, nil
	}
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return 0, err
	}
	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				db.Commit()
			}
		}()
	}

	res := db.Where("queue_entry_id IN ?", queueEntryIDs).Delete(&models.DeliveryRecord{})
	err = res.Error
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

func (r *DeliveryRecordRepositoryImpl) applyFilter(db *gorm.DB, f models.DeliveryRecordFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.QueueEntryID != nil {
		db = db.Where("queue_entry_id = ?", *f.QueueEntryID)
	}
	if f.Recipient != nil {
		db = db.Where("recipient = ?", *f.Recipient)
	}
	if f.BatchIndex != nil {
		db = db.Where("batch_index = ?", *f.BatchIndex)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.GatewayMessageID != nil {
		db = db.Where("gateway_message_id = ?", *f.GatewayMessageID)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *DeliveryRecordRepositoryImpl) ByFilter(ctx context.Context, filter models.DeliveryRecordFilter, orderBy string, limit, offset int) ([]*models.DeliveryRecord, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.DeliveryRecord{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.DeliveryRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *DeliveryRecordRepositoryImpl) Count(ctx context.Context, filter models.DeliveryRecordFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.DeliveryRecord{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *DeliveryRecordRepositoryImpl) Exists(ctx context.Context, filter models.DeliveryRecordFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
