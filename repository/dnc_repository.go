package repository

import (
	"context"
	"errors"

	"github.com/textlane/dispatchd/models"
	"gorm.io/gorm"
)

// DNCRepositoryImpl implements DNCRepository
type DNCRepositoryImpl struct {
	*BaseRepository[models.DNCEntry, models.DNCEntryFilter]
}

func NewDNCRepository(db *gorm.DB) DNCRepository {
	return &DNCRepositoryImpl{BaseRepository: NewBaseRepository[models.DNCEntry, models.DNCEntryFilter](db)}
}

func (r *DNCRepositoryImpl) ByID(ctx context.Context, id uint) (*models.DNCEntry, error) {
	db := r.getDB(ctx)
	var row models.DNCEntry
	if err := db.Last(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ListNumbers returns the union of the owner's exclusions and platform-wide
// ones.
func (r *DNCRepositoryImpl) ListNumbers(ctx context.Context, createdBy string) ([]string, error) {
	db := r.getDB(ctx)
	var numbers []string
	err := db.Model(&models.DNCEntry{}).
		Distinct("phone_number").
		Where("(created_by = ? AND scope = ?) OR scope = ?", createdBy, models.DNCScopeUser, models.DNCScopePlatform).
		Pluck("phone_number", &numbers).Error
	if err != nil {
		return nil, err
	}
	return numbers, nil
}

func (r *DNCRepositoryImpl) applyFilter(db *gorm.DB, f models.DNCEntryFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.PhoneNumber != nil {
		db = db.Where("phone_number = ?", *f.PhoneNumber)
	}
	if f.Scope != nil {
		db = db.Where("scope = ?", *f.Scope)
	}
	if f.CreatedBy != nil {
		db = db.Where("created_by = ?", *f.CreatedBy)
	}
	return db
}

func (r *DNCRepositoryImpl) ByFilter(ctx context.Context, filter models.DNCEntryFilter, orderBy string, limit, offset int) ([]*models.DNCEntry, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.DNCEntry{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.DNCEntry
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *DNCRepositoryImpl) Count(ctx context.Context, filter models.DNCEntryFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.DNCEntry{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *DNCRepositoryImpl) Exists(ctx context.Context, filter models.DNCEntryFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
