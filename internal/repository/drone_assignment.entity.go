package repository

import (
	"time"

	"github.com/nimasrn/drone-dispatch/internal/model"
)

type DroneAssignmentEntity struct {
	ID         int64      `gorm:"primaryKey;autoIncrement;column:id"`
	OrderID    int64      `gorm:"column:order_id;not null;uniqueIndex"`
	DroneID    string     `gorm:"column:drone_id;not null;index;size:64"`
	AssignedAt time.Time  `gorm:"column:assigned_at;not null"`
	ReleasedAt *time.Time `gorm:"column:released_at"`
	Status     string     `gorm:"column:status;not null;default:assigned;index"`
	Notes      string     `gorm:"column:notes"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (DroneAssignmentEntity) TableName() string {
	return "drone_assignments"
}

func toDroneAssignmentEntity(a *model.DroneAssignment) *DroneAssignmentEntity {
	if a == nil {
		return nil
	}
	return &DroneAssignmentEntity{
		ID:         a.ID,
		OrderID:    a.OrderID,
		DroneID:    a.DroneID,
		AssignedAt: a.AssignedAt,
		ReleasedAt: a.ReleasedAt,
		Status:     string(a.Status),
		Notes:      a.Notes,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func toDroneAssignmentModel(e *DroneAssignmentEntity) *model.DroneAssignment {
	if e == nil {
		return nil
	}
	return &model.DroneAssignment{
		ID:         e.ID,
		OrderID:    e.OrderID,
		DroneID:    e.DroneID,
		AssignedAt: e.AssignedAt,
		ReleasedAt: e.ReleasedAt,
		Status:     model.AssignmentStatus(e.Status),
		Notes:      e.Notes,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}
