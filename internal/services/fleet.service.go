package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/nimasrn/drone-dispatch/internal/auth"
	"github.com/nimasrn/drone-dispatch/internal/events"
	"github.com/nimasrn/drone-dispatch/internal/model"
)

// FleetService manages the drone registry.
type FleetService struct {
	tx          Transactor
	drones      DroneRepository
	assignments AssignmentRepository
	effects
}

func NewFleetService(d Dependencies) *FleetService {
	return &FleetService{
		tx:          d.Tx,
		drones:      d.Drones,
		assignments: d.Assignments,
		effects:     newEffects(d.Notifier, d.Publisher),
	}
}

func (s *FleetService) Register(ctx context.Context, req model.DroneRegisterRequest) (*model.Drone, error) {
	if _, err := actor(ctx, auth.KindAdmin); err != nil {
		return nil, err
	}
	req.DroneID = strings.TrimSpace(req.DroneID)
	if err := req.Validate(); err != nil {
		return nil, Validation(err)
	}

	d, err := s.drones.Create(ctx, &model.Drone{
		DroneID:  req.DroneID,
		Battery:  req.Battery,
		Location: req.Location,
		Status:   model.DroneStatusIdle,
	})
	record("register", err)
	if err != nil {
		return nil, translate(err)
	}

	s.publish(ctx, "register", events.DroneUpdate{
		Type:    events.TypeStatus,
		DroneID: d.DroneID,
		Status:  string(d.Status),
		Drone:   d,
	}, events.AdminsRoom)
	return d, nil
}

func (s *FleetService) Get(ctx context.Context, droneID string) (*model.Drone, error) {
	if _, err := actor(ctx, auth.KindAdmin); err != nil {
		return nil, err
	}
	d, err := s.drones.Get(ctx, droneID)
	return d, translate(err)
}

func (s *FleetService) List(ctx context.Context, f model.DroneFilter) ([]*model.Drone, int64, error) {
	if _, err := actor(ctx, auth.KindAdmin); err != nil {
		return nil, 0, err
	}
	return s.drones.List(ctx, f)
}

// Update applies an admin edit. Setting a drone idle closes its assignments.
func (s *FleetService) Update(ctx context.Context, droneID string, u model.DroneUpdate) (*model.Drone, error) {
	if _, err := actor(ctx, auth.KindAdmin); err != nil {
		return nil, err
	}
	if err := u.Validate(); err != nil {
		return nil, Validation(err)
	}
	if u.Empty() {
		return nil, Validation(fmt.Errorf("no fields to update"))
	}

	var d *model.Drone
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		if d, err = s.drones.Update(ctx, droneID, u); err != nil {
			return translate(err)
		}
		if u.Status == nil || *u.Status != model.DroneStatusIdle {
			return nil
		}
		if _, err := s.assignments.ReleaseByDrone(ctx, droneID, "set idle by admin"); err != nil {
			return fmt.Errorf("release assignment: %w", err)
		}
		return nil
	})
	record("update_drone", err)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "update_drone", events.DroneUpdate{
		Type:    events.TypeStatus,
		DroneID: d.DroneID,
		Status:  string(d.Status),
		Drone:   d,
	}, events.DroneRoom(d.DroneID), events.AdminsRoom)
	return d, nil
}

// Telemetry is a position and battery report pushed by a drone.
type Telemetry struct {
	DroneID  string          `json:"drone_id"`
	Battery  *float64        `json:"battery,omitempty"`
	Altitude *float64        `json:"altitude,omitempty"`
	Location *model.Location `json:"location,omitempty"`
}

// ApplyTelemetry records a drone report. It runs for the drones themselves,
// no actor is required.
func (s *FleetService) ApplyTelemetry(ctx context.Context, t Telemetry) (*model.Drone, error) {
	u := model.DroneUpdate{Battery: t.Battery, Altitude: t.Altitude, Location: t.Location}
	if err := u.Validate(); err != nil {
		return nil, Validation(err)
	}
	if u.Empty() {
		return nil, Validation(fmt.Errorf("empty telemetry for drone %s", t.DroneID))
	}

	d, err := s.drones.Update(ctx, t.DroneID, u)
	if err != nil {
		return nil, translate(err)
	}

	s.publish(ctx, "telemetry", events.DroneUpdate{
		Type:    events.TypeTelemetry,
		DroneID: d.DroneID,
		Status:  string(d.Status),
		Drone:   d,
	}, events.DroneRoom(d.DroneID), events.AdminsRoom)
	return d, nil
}
