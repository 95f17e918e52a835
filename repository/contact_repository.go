package repository

import (
	"context"
	"errors"

	"github.com/textlane/dispatchd/models"
	"gorm.io/gorm"
)

// ContactRepositoryImpl implements ContactRepository
type ContactRepositoryImpl struct {
	*BaseRepository[models.Contact, models.ContactFilter]
}

func NewContactRepository(db *gorm.DB) ContactRepository {
	return &ContactRepositoryImpl{BaseRepository: NewBaseRepository[models.Contact, models.ContactFilter](db)}
}

func (r *ContactRepositoryImpl) ByID(ctx context.Context, id uint) (*models.Contact, error) {
	db := r.getDB(ctx)
	var row models.Contact
	if err := db.Last(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ListByGroup returns the owner's contacts belonging to the given group,
// ordered by insertion so snapshot ordering is stable across calls.
func (r *ContactRepositoryImpl) ListByGroup(ctx context.Context, createdBy, group string) ([]*models.Contact, error) {
	db := r.getDB(ctx)
	var rows []*models.Contact
	err := db.Model(&models.Contact{}).
		Where("created_by = ?", createdBy).
		Where("? = ANY(groups)", group).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// DistinctGroups returns every group name appearing in the owner's contacts.
func (r *ContactRepositoryImpl) DistinctGroups(ctx context.Context, createdBy string) ([]string, error) {
	db := r.getDB(ctx)
	var groups []string
	err := db.Model(&models.Contact{}).
		Select("DISTINCT unnest(groups)").
		Where("created_by = ?", createdBy).
		Pluck("unnest", &groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

func (r *ContactRepositoryImpl) applyFilter(db *gorm.DB, f models.ContactFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.PhoneNumber != nil {
		db = db.Where("phone_number = ?", *f.PhoneNumber)
	}
	if f.Group != nil {
		db = db.Where("? = ANY(groups)", *f.Group)
	}
	if f.CreatedBy != nil {
		db = db.Where("created_by = ?", *f.CreatedBy)
	}
	return db
}

func (r *ContactRepositoryImpl) ByFilter(ctx context.Context, filter models.ContactFilter, orderBy string, limit, offset int) ([]*models.Contact, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Contact{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.Contact
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ContactRepositoryImpl) Count(ctx context.Context, filter models.ContactFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Contact{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ContactRepositoryImpl) Exists(ctx context.Context, filter models.ContactFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
