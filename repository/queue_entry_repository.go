package repository

import (
	"context"
	"errors"

	guuid "github.com/google/uuid"
	"github.com/textlane/dispatchd/models"
	"github.com/textlane/dispatchd/utils"
	"gorm.io/gorm"
)

// QueueEntryRepositoryImpl implements QueueEntryRepository
type QueueEntryRepositoryImpl struct {
	*BaseRepository[models.QueueEntry, models.QueueEntryFilter]
}

func NewQueueEntryRepository(db *gorm.DB) QueueEntryRepository {
	return &QueueEntryRepositoryImpl{BaseRepository: NewBaseRepository[models.QueueEntry, models.QueueEntryFilter](db)}
}

func (r *QueueEntryRepositoryImpl) ByID(ctx context.Context, id uint) (*models.QueueEntry, error) {
	db := r.getDB(ctx)
	var row models.QueueEntry
	if err := db.Last(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *QueueEntryRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.QueueEntry, error) {
	parsed, err := guuid.Parse(uuid)
	if err != nil {
		return nil, err
	}
	rows, err := r.ByFilter(ctx, models.QueueEntryFilter{UUID: &parsed}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *QueueEntryRepositoryImpl) ListByOwner(ctx context.Context, createdBy string, limit, offset int) ([]*models.QueueEntry, error) {
	return r.ByFilter(ctx, models.QueueEntryFilter{CreatedBy: &createdBy}, "id DESC", limit, offset)
}

// ListActive returns every entry a dispatcher loop should own: scheduled
// (possibly waiting on its start time), in_progress, and paused ones.
func (r *QueueEntryRepositoryImpl) ListActive(ctx context.Context) ([]*models.QueueEntry, error) {
	db := r.getDB(ctx)
	var rows []*models.QueueEntry
	err := db.Model(&models.QueueEntry{}).
		Where("status IN ?", []models.QueueStatus{
			models.QueueStatusScheduled,
			models.QueueStatusInProgress,
			models.QueueStatusPaused,
		}).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *QueueEntryRepositoryImpl) UpdateStatusCAS(ctx context.Context, entryID uint, expected, next models.QueueStatus) (bool, error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return false, err
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

	res := db.Model(&models.QueueEntry{}).
		Where("id = ? AND status = ?", entryID, expected).
		Updates(map[string]any{
			"status":     next,
			"updated_at": utils.UTCNow(),
		})
	if err = res.Error; err != nil {
		return false, err
	}
	return res.RowsAffected == 1, nil
}

func (r *QueueEntryRepositoryImpl) AdvanceBatchCAS(ctx context.Context, entryID uint, expectedBatch int) (bool, error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return false, err
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

	res := db.Model(&models.QueueEntry{}).
		Where("id = ? AND current_batch = ? AND status = ?", entryID, expectedBatch, models.QueueStatusInProgress).
		Updates(map[string]any{
			"current_batch": expectedBatch + 1,
			"updated_at":    utils.UTCNow(),
		})
	if err = res.Error; err != nil {
		return false, err
	}
	return res.RowsAffected == 1, nil
}

func (r *QueueEntryRepositoryImpl) DeleteByIDs(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
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
	res := db.Where("id IN ?", ids).Delete(&models.QueueEntry{})
	if err = res.Error; err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

func (r *QueueEntryRepositoryImpl) applyFilter(db *gorm.DB, f models.QueueEntryFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		db = db.Where("uuid = ?", *f.UUID)
	}
	if f.CampaignID != nil {
		db = db.Where("campaign_id = ?", *f.CampaignID)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.CreatedBy != nil {
		db = db.Where("created_by = ?", *f.CreatedBy)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *QueueEntryRepositoryImpl) ByFilter(ctx context.Context, filter models.QueueEntryFilter, orderBy string, limit, offset int) ([]*models.QueueEntry, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.QueueEntry{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.QueueEntry
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *QueueEntryRepositoryImpl) Count(ctx context.Context, filter models.QueueEntryFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.QueueEntry{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *QueueEntryRepositoryImpl) Exists(ctx context.Context, filter models.QueueEntryFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
