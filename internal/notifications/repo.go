package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/medcart/pkg/db/models"
)

// Repository persists the durable notification log. Every read and write is
// scoped to the owning user.
type Repository interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListByUser(ctx context.Context, userID string, limit int, unreadOnly bool) ([]models.Notification, error)
	// MarkRead reports whether the notification exists for userID. Marking an
	// already read row is not an error.
	MarkRead(ctx context.Context, userID string, notificationID uuid.UUID, now time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID string, now time.Time) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) owned(ctx context.Context, userID string) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", userID)
}

func (r *gormRepository) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *gormRepository) ListByUser(ctx context.Context, userID string, limit int, unreadOnly bool) ([]models.Notification, error) {
	q := r.owned(ctx, userID).Order("created_at DESC").Order("id DESC")
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.Notification
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *gormRepository) MarkRead(ctx context.Context, userID string, notificationID uuid.UUID, now time.Time) (bool, error) {
	var existing models.Notification
	err := r.owned(ctx, userID).Where("id = ?", notificationID).Select("id", "read_at").Take(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return false, nil
	case err != nil:
		return false, err
	case existing.ReadAt != nil:
		return true, nil
	}
	return true, r.owned(ctx, userID).Where("id = ?", notificationID).UpdateColumn("read_at", now).Error
}

func (r *gormRepository) MarkAllRead(ctx context.Context, userID string, now time.Time) (int64, error) {
	res := r.owned(ctx, userID).Where("read_at IS NULL").UpdateColumn("read_at", now)
	return res.RowsAffected, res.Error
}
