package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrAssignmentNotFound = errors.New("drone assignment not found")

// DroneAssignmentRepository is the assignment ledger. The unique index on
// order_id keeps one row per order, re-assignment rewrites that row.
type DroneAssignmentRepository struct {
	*pg.DB
}

func NewDroneAssignmentRepository(db *pg.DB) *DroneAssignmentRepository {
	return &DroneAssignmentRepository{
		db,
	}
}

// Upsert binds droneID to orderID as an active assignment.
func (r *DroneAssignmentRepository) Upsert(ctx context.Context, orderID int64, droneID, notes string) (*model.DroneAssignment, error) {
	now := time.Now().UTC()
	entity := &DroneAssignmentEntity{
		OrderID:    orderID,
		DroneID:    droneID,
		AssignedAt: now,
		Status:     string(model.AssignmentStatusAssigned),
		Notes:      notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"drone_id", "assigned_at", "released_at", "status", "notes", "updated_at"}),
		}).
		Create(entity).
		Error
	if err != nil {
		return nil, err
	}

	return r.GetByOrder(ctx, orderID)
}

func (r *DroneAssignmentRepository) GetByOrder(ctx context.Context, orderID int64) (*model.DroneAssignment, error) {
	var entity DroneAssignmentEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssignmentNotFound
		}
		return nil, err
	}

	return toDroneAssignmentModel(&entity), nil
}

// GetActiveByOrder returns the order's assignment only while it is active.
func (r *DroneAssignmentRepository) GetActiveByOrder(ctx context.Context, orderID int64) (*model.DroneAssignment, error) {
	a, err := r.GetByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !a.Active() {
		return nil, ErrAssignmentNotFound
	}
	return a, nil
}

func (r *DroneAssignmentRepository) GetActiveByDrone(ctx context.Context, droneID string) (*model.DroneAssignment, error) {
	var entity DroneAssignmentEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("drone_id = ? AND status = ?", droneID, model.AssignmentStatusAssigned).
		Order("assigned_at DESC").
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssignmentNotFound
		}
		return nil, err
	}

	return toDroneAssignmentModel(&entity), nil
}

// ReleaseByOrder closes the order's active assignment. Releasing an already
// released or missing row is a no-op and reports false.
func (r *DroneAssignmentRepository) ReleaseByOrder(ctx context.Context, orderID int64, notes string) (bool, error) {
	return r.release(ctx, r.Write(ctx).WithContext(ctx).Where("order_id = ?", orderID), notes)
}

// ReleaseByDrone closes every active assignment of the drone.
func (r *DroneAssignmentRepository) ReleaseByDrone(ctx context.Context, droneID string, notes string) (bool, error) {
	return r.release(ctx, r.Write(ctx).WithContext(ctx).Where("drone_id = ?", droneID), notes)
}

func (r *DroneAssignmentRepository) release(ctx context.Context, q *gorm.DB, notes string) (bool, error) {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":      string(model.AssignmentStatusReleased),
		"released_at": now,
		"updated_at":  now,
	}
	if notes != "" {
		updates["notes"] = notes
	}

	result := q.Model(&DroneAssignmentEntity{}).
		Where("status = ?", model.AssignmentStatusAssigned).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CountActiveByOrder is used by consistency checks and tests.
func (r *DroneAssignmentRepository) CountActiveByOrder(ctx context.Context, orderID int64) (int64, error) {
	var n int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&DroneAssignmentEntity{}).
		Where("order_id = ? AND status = ?", orderID, model.AssignmentStatusAssigned).
		Count(&n).
		Error
	return n, err
}
