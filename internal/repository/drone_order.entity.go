package repository

import (
	"time"

	"github.com/nimasrn/drone-dispatch/internal/model"
)

type DroneOrderEntity struct {
	ID                    int64      `gorm:"primaryKey;autoIncrement;column:id"`
	OrderID               int64      `gorm:"column:order_id;not null;uniqueIndex"`
	UserID                int64      `gorm:"column:user_id;not null;index"`
	SellerID              int64      `gorm:"column:seller_id;not null;index"`
	QRCode                string     `gorm:"column:qr_code;not null;uniqueIndex;size:128"`
	QRExpiresAt           *time.Time `gorm:"column:qr_expires_at"`
	Status                string     `gorm:"column:status;not null;default:pending;index"`
	DroneID               *string    `gorm:"column:drone_id;index;size:64"`
	WeatherWindSpeed      *float64   `gorm:"column:weather_wind_speed"`
	WeatherRainProb       *float64   `gorm:"column:weather_rain_probability"`
	WeatherVisibility     *float64   `gorm:"column:weather_visibility"`
	WeatherCondition      *string    `gorm:"column:weather_condition"`
	WeatherIsSafe         *bool      `gorm:"column:weather_is_safe"`
	WeatherCheckedAt      *time.Time `gorm:"column:weather_checked_at"`
	WeatherError          *string    `gorm:"column:weather_error"`
	PickupLat             float64    `gorm:"column:pickup_lat;not null"`
	PickupLng             float64    `gorm:"column:pickup_lng;not null"`
	DeliveryLat           float64    `gorm:"column:delivery_lat;not null"`
	DeliveryLng           float64    `gorm:"column:delivery_lng;not null"`
	DeliveryAddress       string     `gorm:"column:delivery_address"`
	CurrentLat            *float64   `gorm:"column:current_lat"`
	CurrentLng            *float64   `gorm:"column:current_lng"`
	EstimatedDeliveryTime *time.Time `gorm:"column:estimated_delivery_time"`
	ActualDeliveryTime    *time.Time `gorm:"column:actual_delivery_time"`
	CancelledBy           *string    `gorm:"column:cancelled_by"`
	CancellationReason    string     `gorm:"column:cancellation_reason"`
	AdminNotes            string     `gorm:"column:admin_notes"`
	CreatedAt             time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (DroneOrderEntity) TableName() string {
	return "drone_orders"
}

func toDroneOrderEntity(o *model.DroneOrder) *DroneOrderEntity {
	if o == nil {
		return nil
	}
	e := &DroneOrderEntity{
		ID:                    o.ID,
		OrderID:               o.OrderID,
		UserID:                o.UserID,
		SellerID:              o.SellerID,
		QRCode:                o.QRCode,
		QRExpiresAt:           o.QRExpiresAt,
		Status:                string(o.Status),
		DroneID:               o.DroneID,
		PickupLat:             o.Pickup.Lat,
		PickupLng:             o.Pickup.Lng,
		DeliveryLat:           o.Delivery.Lat,
		DeliveryLng:           o.Delivery.Lng,
		DeliveryAddress:       o.DeliveryAddress,
		EstimatedDeliveryTime: o.EstimatedDeliveryTime,
		ActualDeliveryTime:    o.ActualDeliveryTime,
		CancellationReason:    o.CancellationReason,
		AdminNotes:            o.AdminNotes,
		CreatedAt:             o.CreatedAt,
		UpdatedAt:             o.UpdatedAt,
	}
	if w := o.WeatherCheck; w != nil {
		e.WeatherWindSpeed = &w.WindSpeed
		e.WeatherRainProb = &w.RainProbability
		e.WeatherVisibility = &w.Visibility
		e.WeatherCondition = &w.Condition
		e.WeatherIsSafe = &w.IsSafe
		checked := w.CheckedAt
		e.WeatherCheckedAt = &checked
		if w.Error != "" {
			e.WeatherError = &w.Error
		}
	}
	if o.CurrentLocation != nil {
		e.CurrentLat = &o.CurrentLocation.Lat
		e.CurrentLng = &o.CurrentLocation.Lng
	}
	if o.CancelledBy != nil {
		by := string(*o.CancelledBy)
		e.CancelledBy = &by
	}
	return e
}

func toDroneOrderModel(e *DroneOrderEntity) *model.DroneOrder {
	if e == nil {
		return nil
	}
	o := &model.DroneOrder{
		ID:                    e.ID,
		OrderID:               e.OrderID,
		UserID:                e.UserID,
		SellerID:              e.SellerID,
		QRCode:                e.QRCode,
		QRExpiresAt:           e.QRExpiresAt,
		Status:                model.DroneOrderStatus(e.Status),
		DroneID:               e.DroneID,
		Pickup:                model.Location{Lat: e.PickupLat, Lng: e.PickupLng},
		Delivery:              model.Location{Lat: e.DeliveryLat, Lng: e.DeliveryLng},
		DeliveryAddress:       e.DeliveryAddress,
		EstimatedDeliveryTime: e.EstimatedDeliveryTime,
		ActualDeliveryTime:    e.ActualDeliveryTime,
		CancellationReason:    e.CancellationReason,
		AdminNotes:            e.AdminNotes,
		CreatedAt:             e.CreatedAt,
		UpdatedAt:             e.UpdatedAt,
	}
	if e.WeatherCheckedAt != nil {
		w := &model.WeatherCheck{CheckedAt: *e.WeatherCheckedAt}
		if e.WeatherWindSpeed != nil {
			w.WindSpeed = *e.WeatherWindSpeed
		}
		if e.WeatherRainProb != nil {
			w.RainProbability = *e.WeatherRainProb
		}
		if e.WeatherVisibility != nil {
			w.Visibility = *e.WeatherVisibility
		}
		if e.WeatherCondition != nil {
			w.Condition = *e.WeatherCondition
		}
		if e.WeatherIsSafe != nil {
			w.IsSafe = *e.WeatherIsSafe
		}
		if e.WeatherError != nil {
			w.Error = *e.WeatherError
		}
		o.WeatherCheck = w
	}
	if e.CurrentLat != nil && e.CurrentLng != nil {
		o.CurrentLocation = &model.Location{Lat: *e.CurrentLat, Lng: *e.CurrentLng}
	}
	if e.CancelledBy != nil {
		by := model.CancelledBy(*e.CancelledBy)
		o.CancelledBy = &by
	}
	return o
}

func toDroneOrderModels(entities []*DroneOrderEntity) []*model.DroneOrder {
	if entities == nil {
		return nil
	}
	models := make([]*model.DroneOrder, len(entities))
	for i, e := range entities {
		models[i] = toDroneOrderModel(e)
	}
	return models
}
