package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/pkg/pg"
	"gorm.io/gorm"
)

var ErrNotificationNotFound = errors.New("notification not found")

type NotificationRepository struct {
	*pg.DB
}

func NewNotificationRepository(db *pg.DB) *NotificationRepository {
	return &NotificationRepository{
		db,
	}
}

func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	entity := toNotificationEntity(n)
	if entity.Status == "" {
		entity.Status = string(model.NotificationStatusPending)
	}

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toNotificationModel(entity), nil
}

func (r *NotificationRepository) Get(ctx context.Context, id int64) (*model.Notification, error) {
	var entity NotificationEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}

	return toNotificationModel(&entity), nil
}

// MarkSent is idempotent, a notification already sent keeps its first timestamp.
func (r *NotificationRepository) MarkSent(ctx context.Context, id int64) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&NotificationEntity{}).
		Where("id = ? AND status = ?", id, model.NotificationStatusPending).
		Updates(map[string]interface{}{
			"status":  string(model.NotificationStatusSent),
			"sent_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID int64, limit, offset int) ([]*model.Notification, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&NotificationEntity{}).Where("recipient_id = ?", recipientID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit, offset = page(limit, offset)

	var entities []*NotificationEntity
	if err := q.Order("id DESC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	out := make([]*model.Notification, len(entities))
	for i, e := range entities {
		out[i] = toNotificationModel(e)
	}
	return out, total, nil
}
