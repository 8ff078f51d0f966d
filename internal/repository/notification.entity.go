package repository

import (
	"time"

	"github.com/nimasrn/drone-dispatch/internal/model"
)

type NotificationEntity struct {
	ID            int64      `gorm:"primaryKey;autoIncrement;column:id"`
	RecipientID   int64      `gorm:"column:recipient_id;not null;index"`
	RecipientRole string     `gorm:"column:recipient_role;not null"`
	Type          string     `gorm:"column:type;not null"`
	Title         string     `gorm:"column:title;not null"`
	Message       string     `gorm:"column:message;not null"`
	OrderID       *int64     `gorm:"column:order_id;index"`
	DroneID       *string    `gorm:"column:drone_id"`
	Status        string     `gorm:"column:status;not null;default:pending;index"`
	SentAt        *time.Time `gorm:"column:sent_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (NotificationEntity) TableName() string {
	return "notifications"
}

func toNotificationEntity(n *model.Notification) *NotificationEntity {
	if n == nil {
		return nil
	}
	return &NotificationEntity{
		ID:            n.ID,
		RecipientID:   n.RecipientID,
		RecipientRole: string(n.RecipientRole),
		Type:          string(n.Type),
		Title:         n.Title,
		Message:       n.Message,
		OrderID:       n.OrderID,
		DroneID:       n.DroneID,
		Status:        string(n.Status),
		SentAt:        n.SentAt,
		CreatedAt:     n.CreatedAt,
	}
}

func toNotificationModel(e *NotificationEntity) *model.Notification {
	if e == nil {
		return nil
	}
	return &model.Notification{
		ID:            e.ID,
		RecipientID:   e.RecipientID,
		RecipientRole: model.Role(e.RecipientRole),
		Type:          model.NotificationType(e.Type),
		Title:         e.Title,
		Message:       e.Message,
		OrderID:       e.OrderID,
		DroneID:       e.DroneID,
		Status:        model.NotificationStatus(e.Status),
		SentAt:        e.SentAt,
		CreatedAt:     e.CreatedAt,
	}
}
