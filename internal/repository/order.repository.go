package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/pkg/pg"
	"gorm.io/gorm"
)

var ErrOrderNotFound = errors.New("order not found")

type OrderRepository struct {
	*pg.DB
}

func NewOrderRepository(db *pg.DB) *OrderRepository {
	return &OrderRepository{
		db,
	}
}

func (r *OrderRepository) Create(ctx context.Context, o *model.Order) (*model.Order, error) {
	entity := toOrderEntity(o)

	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
			return err
		}
		return r.AppendHistory(ctx, entity.ID, model.OrderStatus(entity.Status), "order placed")
	})
	if err != nil {
		return nil, err
	}

	return toOrderModel(entity), nil
}

func (r *OrderRepository) Get(ctx context.Context, id int64) (*model.Order, error) {
	var entity OrderEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	return toOrderModel(&entity), nil
}

// SwitchToDrone records the drone order backing the order.
func (r *OrderRepository) SwitchToDrone(ctx context.Context, id, droneOrderID int64) error {
	return r.update(ctx, id, map[string]interface{}{
		"delivery_type":   string(model.DeliveryTypeDrone),
		"drone_order_id":  droneOrderID,
		"fallback_reason": nil,
	})
}

// FallbackToRegular flips the order back to regular delivery.
func (r *OrderRepository) FallbackToRegular(ctx context.Context, id int64, reason model.FallbackReason) error {
	return r.update(ctx, id, map[string]interface{}{
		"delivery_type":   string(model.DeliveryTypeRegular),
		"fallback_reason": string(reason),
	})
}

func (r *OrderRepository) UpdateShopStatus(ctx context.Context, id int64, status model.ShopStatus) error {
	return r.update(ctx, id, map[string]interface{}{"shop_status": string(status)})
}

func (r *OrderRepository) SetHandoffToken(ctx context.Context, id int64, token string) error {
	return r.update(ctx, id, map[string]interface{}{"handoff_token": token})
}

// SetStatus moves the order and appends a history row in one transaction.
func (r *OrderRepository) SetStatus(ctx context.Context, id int64, status model.OrderStatus, note string) error {
	return r.WithinTransaction(ctx, func(ctx context.Context) error {
		updates := map[string]interface{}{"status": string(status)}
		if status == model.OrderStatusDelivered {
			updates["handoff_token"] = nil
		}
		if err := r.update(ctx, id, updates); err != nil {
			return err
		}
		return r.AppendHistory(ctx, id, status, note)
	})
}

func (r *OrderRepository) AppendHistory(ctx context.Context, orderID int64, status model.OrderStatus, note string) error {
	return r.Write(ctx).WithContext(ctx).Create(&OrderStatusHistoryEntity{
		OrderID:   orderID,
		Status:    string(status),
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}).Error
}

func (r *OrderRepository) History(ctx context.Context, orderID int64) ([]*model.OrderStatusHistory, error) {
	var entities []*OrderStatusHistoryEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}

	out := make([]*model.OrderStatusHistory, len(entities))
	for i, e := range entities {
		out[i] = toOrderStatusHistoryModel(e)
	}
	return out, nil
}

func (r *OrderRepository) update(ctx context.Context, id int64, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now().UTC()
	result := r.Write(ctx).WithContext(ctx).
		Model(&OrderEntity{}).
		Where("id = ?", id).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrOrderNotFound
	}

	return nil
}
