package repository

import (
	"time"

	"github.com/nimasrn/drone-dispatch/internal/model"
)

type DroneEntity struct {
	DroneID   string    `gorm:"primaryKey;column:drone_id;size:64"`
	Battery   float64   `gorm:"column:battery;not null;default:100"`
	Lat       float64   `gorm:"column:lat;not null;default:0"`
	Lng       float64   `gorm:"column:lng;not null;default:0"`
	Altitude  float64   `gorm:"column:altitude;not null;default:0"`
	Status    string    `gorm:"column:status;not null;default:idle;index"`
	DestLat   *float64  `gorm:"column:dest_lat"`
	DestLng   *float64  `gorm:"column:dest_lng"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (DroneEntity) TableName() string {
	return "drones"
}

func toDroneEntity(d *model.Drone) *DroneEntity {
	if d == nil {
		return nil
	}
	e := &DroneEntity{
		DroneID:   d.DroneID,
		Battery:   d.Battery,
		Lat:       d.Location.Lat,
		Lng:       d.Location.Lng,
		Altitude:  d.Altitude,
		Status:    string(d.Status),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if d.Destination != nil {
		e.DestLat = &d.Destination.Lat
		e.DestLng = &d.Destination.Lng
	}
	return e
}

func toDroneModel(e *DroneEntity) *model.Drone {
	if e == nil {
		return nil
	}
	d := &model.Drone{
		DroneID:   e.DroneID,
		Battery:   e.Battery,
		Location:  model.Location{Lat: e.Lat, Lng: e.Lng},
		Altitude:  e.Altitude,
		Status:    model.DroneStatus(e.Status),
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
	if e.DestLat != nil && e.DestLng != nil {
		d.Destination = &model.Location{Lat: *e.DestLat, Lng: *e.DestLng}
	}
	return d
}

func toDroneModels(entities []*DroneEntity) []*model.Drone {
	if entities == nil {
		return nil
	}
	models := make([]*model.Drone, len(entities))
	for i, e := range entities {
		models[i] = toDroneModel(e)
	}
	return models
}
