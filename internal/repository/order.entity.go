package repository

import (
	"time"

	"github.com/nimasrn/drone-dispatch/internal/model"
)

type OrderEntity struct {
	ID             int64     `gorm:"primaryKey;autoIncrement;column:id"`
	UserID         int64     `gorm:"column:user_id;not null;index"`
	SellerID       int64     `gorm:"column:seller_id;not null;index"`
	ShopID         int64     `gorm:"column:shop_id;not null;index"`
	ShopStatus     string    `gorm:"column:shop_status;not null;default:pending"`
	Status         string    `gorm:"column:status;not null;default:placed"`
	DeliveryType   string    `gorm:"column:delivery_type;not null;default:regular"`
	FallbackReason *string   `gorm:"column:fallback_reason"`
	DroneOrderID   *int64    `gorm:"column:drone_order_id"`
	PickupLat      float64   `gorm:"column:pickup_lat"`
	PickupLng      float64   `gorm:"column:pickup_lng"`
	DeliveryLat    float64   `gorm:"column:delivery_lat"`
	DeliveryLng    float64   `gorm:"column:delivery_lng"`
	Address        string    `gorm:"column:address"`
	HandoffToken   *string   `gorm:"column:handoff_token"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (OrderEntity) TableName() string {
	return "orders"
}

type OrderStatusHistoryEntity struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id"`
	OrderID   int64     `gorm:"column:order_id;not null;index"`
	Status    string    `gorm:"column:status;not null"`
	Note      string    `gorm:"column:note"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (OrderStatusHistoryEntity) TableName() string {
	return "order_status_history"
}

func toOrderEntity(o *model.Order) *OrderEntity {
	if o == nil {
		return nil
	}
	e := &OrderEntity{
		ID:           o.ID,
		UserID:       o.UserID,
		SellerID:     o.SellerID,
		ShopID:       o.ShopID,
		ShopStatus:   string(o.ShopStatus),
		Status:       string(o.Status),
		DeliveryType: string(o.DeliveryType),
		DroneOrderID: o.DroneOrderID,
		PickupLat:    o.Pickup.Lat,
		PickupLng:    o.Pickup.Lng,
		DeliveryLat:  o.Delivery.Lat,
		DeliveryLng:  o.Delivery.Lng,
		Address:      o.Address,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
	if o.FallbackReason != nil {
		reason := string(*o.FallbackReason)
		e.FallbackReason = &reason
	}
	if o.HandoffToken != "" {
		e.HandoffToken = &o.HandoffToken
	}
	return e
}

func toOrderModel(e *OrderEntity) *model.Order {
	if e == nil {
		return nil
	}
	o := &model.Order{
		ID:           e.ID,
		UserID:       e.UserID,
		SellerID:     e.SellerID,
		ShopID:       e.ShopID,
		ShopStatus:   model.ShopStatus(e.ShopStatus),
		Status:       model.OrderStatus(e.Status),
		DeliveryType: model.DeliveryType(e.DeliveryType),
		DroneOrderID: e.DroneOrderID,
		Pickup:       model.Location{Lat: e.PickupLat, Lng: e.PickupLng},
		Delivery:     model.Location{Lat: e.DeliveryLat, Lng: e.DeliveryLng},
		Address:      e.Address,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
	if e.FallbackReason != nil {
		reason := model.FallbackReason(*e.FallbackReason)
		o.FallbackReason = &reason
	}
	if e.HandoffToken != nil {
		o.HandoffToken = *e.HandoffToken
	}
	return o
}

func toOrderStatusHistoryModel(e *OrderStatusHistoryEntity) *model.OrderStatusHistory {
	if e == nil {
		return nil
	}
	return &model.OrderStatusHistory{
		ID:        e.ID,
		OrderID:   e.OrderID,
		Status:    model.OrderStatus(e.Status),
		Note:      e.Note,
		CreatedAt: e.CreatedAt,
	}
}
