package model

import "time"

type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationWarning NotificationType = "warning"
	NotificationError   NotificationType = "error"
	NotificationSuccess NotificationType = "success"
)

type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
)

type Notification struct {
	ID            int64              `json:"id"`
	RecipientID   int64              `json:"recipient_id"`
	RecipientRole Role               `json:"recipient_role"`
	Type          NotificationType   `json:"type"`
	Title         string             `json:"title"`
	Message       string             `json:"message"`
	OrderID       *int64             `json:"order_id,omitempty"`
	DroneID       *string            `json:"drone_id,omitempty"`
	Status        NotificationStatus `json:"status"`
	SentAt        *time.Time         `json:"sent_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}
