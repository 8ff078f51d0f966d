package model

import (
	"errors"
	"time"
)

type DroneStatus string

const (
	DroneStatusIdle          DroneStatus = "idle"
	DroneStatusAssigned      DroneStatus = "assigned"
	DroneStatusLaunched      DroneStatus = "launched"
	DroneStatusInFlight      DroneStatus = "in_flight"
	DroneStatusLanded        DroneStatus = "landed"
	DroneStatusReturning     DroneStatus = "returning"
	DroneStatusStopped       DroneStatus = "stopped"
	DroneStatusEnRouteToShop DroneStatus = "en_route_to_shop"
)

var droneStatuses = map[DroneStatus]struct{}{
	DroneStatusIdle: {}, DroneStatusAssigned: {}, DroneStatusLaunched: {}, DroneStatusInFlight: {},
	DroneStatusLanded: {}, DroneStatusReturning: {}, DroneStatusStopped: {}, DroneStatusEnRouteToShop: {},
}

func (s DroneStatus) Valid() bool {
	_, ok := droneStatuses[s]
	return ok
}

// Busy reports whether the drone is bound to an active assignment.
func (s DroneStatus) Busy() bool {
	switch s {
	case DroneStatusAssigned, DroneStatusLaunched, DroneStatusInFlight, DroneStatusEnRouteToShop:
		return true
	}
	return false
}

// Airborne reports whether the drone has left the ground for a delivery.
func (s DroneStatus) Airborne() bool {
	return s == DroneStatusLaunched || s == DroneStatusInFlight || s == DroneStatusEnRouteToShop
}

type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Drone struct {
	DroneID     string      `json:"drone_id"`
	Battery     float64     `json:"battery"`
	Location    Location    `json:"location"`
	Altitude    float64     `json:"altitude"`
	Status      DroneStatus `json:"status"`
	Destination *Location   `json:"destination,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// DroneUpdate is a partial update, nil fields are left untouched.
type DroneUpdate struct {
	Status      *DroneStatus `json:"status,omitempty"`
	Battery     *float64     `json:"battery,omitempty"`
	Altitude    *float64     `json:"altitude,omitempty"`
	Location    *Location    `json:"location,omitempty"`
	Destination *Location    `json:"destination,omitempty"`
}

func (u DroneUpdate) Validate() error {
	if u.Status != nil && !u.Status.Valid() {
		return errors.New("invalid drone status")
	}
	if u.Battery != nil && (*u.Battery < 0 || *u.Battery > 100) {
		return errors.New("battery must be between 0 and 100")
	}
	if u.Altitude != nil && *u.Altitude < 0 {
		return errors.New("altitude must not be negative")
	}
	return nil
}

func (u DroneUpdate) Empty() bool {
	return u.Status == nil && u.Battery == nil && u.Altitude == nil && u.Location == nil && u.Destination == nil
}

type DroneRegisterRequest struct {
	DroneID  string   `json:"drone_id"`
	Battery  float64  `json:"battery"`
	Location Location `json:"location"`
}

func (r DroneRegisterRequest) Validate() error {
	if r.DroneID == "" {
		return errors.New("drone_id is required")
	}
	if r.Battery < 0 || r.Battery > 100 {
		return errors.New("battery must be between 0 and 100")
	}
	return nil
}

// DroneFilter controls drone list queries.
type DroneFilter struct {
	Statuses   []DroneStatus
	MinBattery *float64
	Limit      int // default 50
	Offset     int
}
