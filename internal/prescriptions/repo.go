package prescriptions

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/medcart/pkg/db/models"
)

// Repository exposes prescription persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a prescription repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new prescription row.
func (r *Repository) Create(ctx context.Context, rec *models.Prescription) (*models.Prescription, error) {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Prescription, error) {
	var rec models.Prescription
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// Update writes the named columns of rec. It returns gorm.ErrRecordNotFound
// when the row no longer exists.
func (r *Repository) Update(ctx context.Context, rec *models.Prescription, columns ...string) error {
	cols := append([]string{"updated_at"}, columns...)
	res := r.db.WithContext(ctx).Model(rec).Select(cols).Updates(rec)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Prescription{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListByOwner returns the owner's prescriptions, newest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]models.Prescription, error) {
	var rows []models.Prescription
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListAll returns every prescription, newest first.
func (r *Repository) ListAll(ctx context.Context) ([]models.Prescription, error) {
	var rows []models.Prescription
	if err := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
