package model

import (
	"errors"
	"time"
)

type DeliveryType string

const (
	DeliveryTypeRegular DeliveryType = "regular"
	DeliveryTypeDrone   DeliveryType = "drone"
)

type OrderStatus string

const (
	OrderStatusPlaced    OrderStatus = "placed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ShopStatus is the per-shop preparation state of an order.
type ShopStatus string

const (
	ShopStatusPending   ShopStatus = "pending"
	ShopStatusPreparing ShopStatus = "preparing"
	ShopStatusReady     ShopStatus = "ready"
	ShopStatusPickedUp  ShopStatus = "picked_up"
)

func (s ShopStatus) Valid() bool {
	switch s {
	case ShopStatusPending, ShopStatusPreparing, ShopStatusReady, ShopStatusPickedUp:
		return true
	}
	return false
}

type Order struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	SellerID       int64           `json:"seller_id"`
	ShopID         int64           `json:"shop_id"`
	ShopStatus     ShopStatus      `json:"shop_status"`
	Status         OrderStatus     `json:"status"`
	DeliveryType   DeliveryType    `json:"delivery_type"`
	FallbackReason *FallbackReason `json:"fallback_reason,omitempty"`
	DroneOrderID   *int64          `json:"drone_order_id,omitempty"`
	Pickup         Location        `json:"pickup"`
	Delivery       Location        `json:"delivery"`
	Address        string          `json:"address,omitempty"`
	HandoffToken   string          `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type OrderCreateRequest struct {
	ShopID       int64        `json:"shop_id"`
	SellerID     int64        `json:"seller_id"`
	DeliveryType DeliveryType `json:"delivery_type"`
	Pickup       Location     `json:"pickup"`
	Delivery     Location     `json:"delivery"`
	Address      string       `json:"address"`
}

func (r OrderCreateRequest) Validate() error {
	if r.ShopID == 0 {
		return errors.New("shop_id is required")
	}
	if r.SellerID == 0 {
		return errors.New("seller_id is required")
	}
	if r.DeliveryType != DeliveryTypeRegular && r.DeliveryType != DeliveryTypeDrone {
		return errors.New("delivery_type must be regular or drone")
	}
	if r.DeliveryType == DeliveryTypeDrone && (!validLocation(r.Pickup) || !validLocation(r.Delivery)) {
		return errors.New("drone delivery requires pickup and delivery locations")
	}
	return nil
}

// OrderStatusHistory is an append-only log of order transitions.
type OrderStatusHistory struct {
	ID        int64       `json:"id"`
	OrderID   int64       `json:"order_id"`
	Status    OrderStatus `json:"status"`
	Note      string      `json:"note,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
