// Package notification creates user and admin alerts. Records are persisted
// as pending and handed to the delivery stream consumed by cmd/notifier.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/pkg/logger"
	"github.com/nimasrn/drone-dispatch/pkg/redis"
)

// Alert is the content of a notification, addressed later to one or more recipients.
type Alert struct {
	Type    model.NotificationType
	Title   string
	Message string
	OrderID *int64
	DroneID *string
}

// Job is the stream payload of one notification delivery.
type Job struct {
	NotificationID int64 `json:"notification_id"`
}

type Store interface {
	Create(ctx context.Context, n *model.Notification) (*model.Notification, error)
}

type Directory interface {
	AdminIDs(ctx context.Context) ([]int64, error)
}

type Enqueuer interface {
	PublishJSON(ctx context.Context, v interface{}, metadata map[string]string) (string, error)
}

type Service struct {
	store    Store
	admins   Directory
	queue    Enqueuer
	redis    redis.RedisAdapter
	cooldown time.Duration
}

type Option func(*Service)

// WithQueue enables delivery, without it records stay pending.
func WithQueue(q Enqueuer) Option {
	return func(s *Service) { s.queue = q }
}

// WithLowBatteryCooldown suppresses repeated low-battery alerts for the same
// drone and order within d. A zero d alerts on every call.
func WithLowBatteryCooldown(r redis.RedisAdapter, d time.Duration) Option {
	return func(s *Service) {
		s.redis = r
		s.cooldown = d
	}
}

func NewService(store Store, admins Directory, opts ...Option) *Service {
	s := &Service{store: store, admins: admins}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) NotifyUser(ctx context.Context, userID int64, a Alert) error {
	return s.create(ctx, userID, model.RoleUser, a)
}

// NotifyAdmins sends a copy of the alert to every active admin.
func (s *Service) NotifyAdmins(ctx context.Context, a Alert) error {
	ids, err := s.admins.AdminIDs(ctx)
	if err != nil {
		return fmt.Errorf("list admins: %w", err)
	}

	var errs []error
	for _, id := range ids {
		if err := s.create(ctx, id, model.RoleAdmin, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifyUserAndAdmins attempts both audiences even if one of them fails.
func (s *Service) NotifyUserAndAdmins(ctx context.Context, userID int64, a Alert) error {
	return errors.Join(s.NotifyUser(ctx, userID, a), s.NotifyAdmins(ctx, a))
}

func (s *Service) create(ctx context.Context, recipient int64, role model.Role, a Alert) error {
	n, err := s.store.Create(ctx, &model.Notification{
		RecipientID:   recipient,
		RecipientRole: role,
		Type:          a.Type,
		Title:         a.Title,
		Message:       a.Message,
		OrderID:       a.OrderID,
		DroneID:       a.DroneID,
		Status:        model.NotificationStatusPending,
	})
	if err != nil {
		return fmt.Errorf("create notification for %s %d: %w", role, recipient, err)
	}

	if s.queue == nil {
		return nil
	}
	_, err = s.queue.PublishJSON(ctx, Job{NotificationID: n.ID}, map[string]string{
		"notification_id": strconv.FormatInt(n.ID, 10),
		"type":            string(n.Type),
	})
	if err != nil {
		return fmt.Errorf("enqueue notification %d: %w", n.ID, err)
	}
	return nil
}

// AllowLowBatteryAlert reports whether a low-battery alert for this drone and
// order may be sent now. Redis failures allow the alert.
func (s *Service) AllowLowBatteryAlert(ctx context.Context, droneID string, orderID int64) bool {
	if s.cooldown <= 0 || s.redis == nil {
		return true
	}

	key := "lowbattery:" + droneID + ":" + strconv.FormatInt(orderID, 10)
	ok, err := s.redis.SetNX(ctx, key, []byte(time.Now().UTC().Format(time.RFC3339)), s.cooldown)
	if err != nil {
		logger.Warn("low battery cooldown check failed", "drone_id", droneID, "order_id", orderID, "error", err)
		return true
	}
	return ok
}
