package model

import (
	"errors"
	"time"
)

type DroneOrderStatus string

const (
	DroneOrderStatusPending            DroneOrderStatus = "pending"
	DroneOrderStatusAssigned           DroneOrderStatus = "assigned"
	DroneOrderStatusPreparing          DroneOrderStatus = "preparing"
	DroneOrderStatusDroneDispatched    DroneOrderStatus = "drone_dispatched"
	DroneOrderStatusOutForDelivery     DroneOrderStatus = "out_for_delivery"
	DroneOrderStatusDelivered          DroneOrderStatus = "delivered"
	DroneOrderStatusCancelled          DroneOrderStatus = "cancelled"
	DroneOrderStatusWeatherBlocked     DroneOrderStatus = "weather_blocked"
	DroneOrderStatusDroneEnRouteToShop DroneOrderStatus = "drone_en_route_to_shop"
)

var droneOrderStatuses = map[DroneOrderStatus]struct{}{
	DroneOrderStatusPending: {}, DroneOrderStatusAssigned: {}, DroneOrderStatusPreparing: {},
	DroneOrderStatusDroneDispatched: {}, DroneOrderStatusOutForDelivery: {}, DroneOrderStatusDelivered: {},
	DroneOrderStatusCancelled: {}, DroneOrderStatusWeatherBlocked: {}, DroneOrderStatusDroneEnRouteToShop: {},
}

func (s DroneOrderStatus) Valid() bool {
	_, ok := droneOrderStatuses[s]
	return ok
}

// Terminal statuses accept no further mutation.
func (s DroneOrderStatus) Terminal() bool {
	return s == DroneOrderStatusDelivered || s == DroneOrderStatusCancelled
}

// Assignable reports whether an idle drone may still be bound. Once a drone
// has been dispatched the order keeps it until it ends.
func (s DroneOrderStatus) Assignable() bool {
	switch s {
	case DroneOrderStatusPending, DroneOrderStatusWeatherBlocked, DroneOrderStatusPreparing, DroneOrderStatusAssigned:
		return true
	}
	return false
}

// Launchable reports whether a bound drone may take off for this order.
func (s DroneOrderStatus) Launchable() bool {
	switch s {
	case DroneOrderStatusAssigned, DroneOrderStatusPreparing, DroneOrderStatusDroneDispatched, DroneOrderStatusDroneEnRouteToShop:
		return true
	}
	return false
}

// CancelledBy records who ended the delivery.
type CancelledBy string

const (
	CancelledByUser   CancelledBy = "user"
	CancelledBySeller CancelledBy = "seller"
	CancelledByAdmin  CancelledBy = "admin"
	CancelledBySystem CancelledBy = "system"
)

// FallbackReason explains a switch from drone to regular delivery.
type FallbackReason string

const (
	FallbackUnsafeWeather     FallbackReason = "unsafe_weather"
	FallbackWeatherAPIFailure FallbackReason = "weather_api_failure"
)

// WeatherCheck is the snapshot of one Weather Gate verdict.
type WeatherCheck struct {
	WindSpeed       float64   `json:"wind_speed"`
	RainProbability float64   `json:"rain_probability"`
	Visibility      float64   `json:"visibility"`
	Condition       string    `json:"condition"`
	IsSafe          bool      `json:"is_safe"`
	CheckedAt       time.Time `json:"checked_at"`
	Error           string    `json:"error,omitempty"`
}

func (w *WeatherCheck) Failed() bool {
	return w != nil && w.Error != ""
}

type DroneOrder struct {
	ID                    int64            `json:"id"`
	OrderID               int64            `json:"order_id"`
	UserID                int64            `json:"user_id"`
	SellerID              int64            `json:"seller_id"`
	QRCode                string           `json:"qr_code"`
	QRExpiresAt           *time.Time       `json:"qr_expires_at,omitempty"`
	Status                DroneOrderStatus `json:"status"`
	DroneID               *string          `json:"drone_id,omitempty"`
	WeatherCheck          *WeatherCheck    `json:"weather_check,omitempty"`
	Pickup                Location         `json:"pickup"`
	Delivery              Location         `json:"delivery"`
	DeliveryAddress       string           `json:"delivery_address,omitempty"`
	CurrentLocation       *Location        `json:"current_location,omitempty"`
	EstimatedDeliveryTime *time.Time       `json:"estimated_delivery_time,omitempty"`
	ActualDeliveryTime    *time.Time       `json:"actual_delivery_time,omitempty"`
	CancelledBy           *CancelledBy     `json:"cancelled_by,omitempty"`
	CancellationReason    string           `json:"cancellation_reason,omitempty"`
	AdminNotes            string           `json:"admin_notes,omitempty"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`

	Order *Order `json:"order,omitempty"`
}

type DroneOrderCreateRequest struct {
	OrderID         int64    `json:"order_id"`
	Pickup          Location `json:"pickup"`
	Delivery        Location `json:"delivery"`
	DeliveryAddress string   `json:"delivery_address"`
}

func (r DroneOrderCreateRequest) Validate() error {
	if r.OrderID == 0 {
		return errors.New("order_id is required")
	}
	if !validLocation(r.Pickup) {
		return errors.New("pickup location is invalid")
	}
	if !validLocation(r.Delivery) {
		return errors.New("delivery location is invalid")
	}
	return nil
}

// DroneOrderStatusUpdate is issued by sellers and admins.
type DroneOrderStatusUpdate struct {
	Status  DroneOrderStatus `json:"status"`
	DroneID *string          `json:"drone_id,omitempty"`
	Notes   string           `json:"notes,omitempty"`
}

func (r DroneOrderStatusUpdate) Validate() error {
	if !r.Status.Valid() {
		return errors.New("invalid status")
	}
	return nil
}

// DroneOrderFilter controls drone order list queries.
type DroneOrderFilter struct {
	Statuses []DroneOrderStatus
	UserID   *int64
	SellerID *int64
	DroneID  *string
	From     *time.Time
	To       *time.Time
	Limit    int  // default 50
	Offset   int  // for pagination
	Desc     bool // order by created_at
}

func validLocation(l Location) bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180 && !(l.Lat == 0 && l.Lng == 0)
}
