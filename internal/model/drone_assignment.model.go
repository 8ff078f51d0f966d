package model

import "time"

type AssignmentStatus string

const (
	AssignmentStatusAssigned AssignmentStatus = "assigned"
	AssignmentStatusReleased AssignmentStatus = "released"
)

// DroneAssignment binds a drone to an order, at most one row exists per order.
type DroneAssignment struct {
	ID         int64            `json:"id"`
	OrderID    int64            `json:"order_id"`
	DroneID    string           `json:"drone_id"`
	AssignedAt time.Time        `json:"assigned_at"`
	ReleasedAt *time.Time       `json:"released_at,omitempty"`
	Status     AssignmentStatus `json:"status"`
	Notes      string           `json:"notes,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func (a *DroneAssignment) Active() bool {
	return a != nil && a.Status == AssignmentStatusAssigned
}
