package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDroneNotFound      = errors.New("drone not found")
	ErrDroneExists        = errors.New("drone already registered")
	ErrNoIdleDrone        = errors.New("no idle drone available")
	ErrDroneBusy          = errors.New("drone is not idle")
	ErrConcurrentUpdate   = errors.New("concurrent update detected")
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// ClaimRequest describes which idle drone may be claimed and what it becomes.
type ClaimRequest struct {
	// MinBattery, when set, requires battery strictly above the value.
	MinBattery  *float64
	Status      model.DroneStatus
	Destination *model.Location
}

type DroneRepository struct {
	*pg.DB
}

func NewDroneRepository(db *pg.DB) *DroneRepository {
	return &DroneRepository{
		db,
	}
}

func (r *DroneRepository) Create(ctx context.Context, d *model.Drone) (*model.Drone, error) {
	entity := toDroneEntity(d)
	if entity.Status == "" {
		entity.Status = string(model.DroneStatusIdle)
	}

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		if pg.IsDuplicateKey(err) {
			return nil, ErrDroneExists
		}
		return nil, err
	}

	return toDroneModel(entity), nil
}

func (r *DroneRepository) Get(ctx context.Context, droneID string) (*model.Drone, error) {
	var entity DroneEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("drone_id = ?", droneID).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDroneNotFound
		}
		return nil, err
	}

	return toDroneModel(&entity), nil
}

func (r *DroneRepository) List(ctx context.Context, f model.DroneFilter) ([]*model.Drone, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&DroneEntity{})

	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", statusStrings(f.Statuses))
	}
	if f.MinBattery != nil {
		q = q.Where("battery >= ?", *f.MinBattery)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit, offset := page(f.Limit, f.Offset)

	var entities []*DroneEntity
	if err := q.Order("drone_id ASC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toDroneModels(entities), total, nil
}

// ClaimIdle atomically moves one idle drone into req.Status and returns it.
// The candidate with the highest battery wins. A concurrent claim on the same
// candidate is retried with backoff against the next one.
func (r *DroneRepository) ClaimIdle(ctx context.Context, req ClaimRequest) (*model.Drone, error) {
	const maxRetries = 3
	const baseDelay = 2 * time.Millisecond

	for attempt := 0; attempt <= maxRetries; attempt++ {
		drone, err := r.claimIdleAttempt(ctx, req)
		if err == nil {
			return drone, nil
		}

		if !errors.Is(err, ErrConcurrentUpdate) {
			return nil, err
		}

		if attempt < maxRetries {
			delay := baseDelay * time.Duration(1<<attempt) // 2ms, 4ms, 8ms
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				continue
			}
		}
	}

	return nil, fmt.Errorf("%w: failed after %d attempts", ErrMaxRetriesExceeded, maxRetries+1)
}

func (r *DroneRepository) claimIdleAttempt(ctx context.Context, req ClaimRequest) (*model.Drone, error) {
	var candidate DroneEntity

	q := r.Write(ctx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", model.DroneStatusIdle)
	if req.MinBattery != nil {
		q = q.Where("battery > ?", *req.MinBattery)
	}

	err := q.Order("battery DESC").Order("drone_id ASC").First(&candidate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoIdleDrone
		}
		return nil, err
	}

	swapped, err := r.swapIdle(ctx, candidate.DroneID, req)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, ErrConcurrentUpdate
	}

	return r.Get(ctx, candidate.DroneID)
}

// ClaimByID atomically moves the named drone from idle into req.Status.
// It fails with ErrDroneNotFound for an unknown drone and ErrDroneBusy when
// the drone is not idle or lacks the required battery.
func (r *DroneRepository) ClaimByID(ctx context.Context, droneID string, req ClaimRequest) (*model.Drone, error) {
	swapped, err := r.swapIdle(ctx, droneID, req)
	if err != nil {
		return nil, err
	}
	if !swapped {
		if _, err := r.Get(ctx, droneID); err != nil {
			return nil, err
		}
		return nil, ErrDroneBusy
	}

	return r.Get(ctx, droneID)
}

// swapIdle flips one drone out of idle. The status guard makes it a compare-and-swap.
func (r *DroneRepository) swapIdle(ctx context.Context, droneID string, req ClaimRequest) (bool, error) {
	updates := map[string]interface{}{
		"status":     string(req.Status),
		"updated_at": time.Now().UTC(),
		"dest_lat":   nil,
		"dest_lng":   nil,
	}
	if req.Destination != nil {
		updates["dest_lat"] = req.Destination.Lat
		updates["dest_lng"] = req.Destination.Lng
	}

	upd := r.Write(ctx).WithContext(ctx).
		Model(&DroneEntity{}).
		Where("drone_id = ? AND status = ?", droneID, model.DroneStatusIdle)
	if req.MinBattery != nil {
		upd = upd.Where("battery > ?", *req.MinBattery)
	}
	result := upd.Updates(updates)

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// Update applies a partial update and returns the stored drone.
func (r *DroneRepository) Update(ctx context.Context, droneID string, u model.DroneUpdate) (*model.Drone, error) {
	updates := map[string]interface{}{
		"updated_at": time.Now().UTC(),
	}
	if u.Status != nil {
		updates["status"] = string(*u.Status)
	}
	if u.Battery != nil {
		updates["battery"] = *u.Battery
	}
	if u.Altitude != nil {
		updates["altitude"] = *u.Altitude
	}
	if u.Location != nil {
		updates["lat"] = u.Location.Lat
		updates["lng"] = u.Location.Lng
	}
	if u.Destination != nil {
		updates["dest_lat"] = u.Destination.Lat
		updates["dest_lng"] = u.Destination.Lng
	}

	result := r.Write(ctx).WithContext(ctx).
		Model(&DroneEntity{}).
		Where("drone_id = ?", droneID).
		Updates(updates)

	if result.Error != nil {
		return nil, result.Error
	}

	if result.RowsAffected == 0 {
		return nil, ErrDroneNotFound
	}

	return r.Get(ctx, droneID)
}

// Release puts a drone back to idle on the ground, clearing its destination.
func (r *DroneRepository) Release(ctx context.Context, droneID string) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&DroneEntity{}).
		Where("drone_id = ?", droneID).
		Updates(map[string]interface{}{
			"status":     string(model.DroneStatusIdle),
			"dest_lat":   nil,
			"dest_lng":   nil,
			"updated_at": time.Now().UTC(),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrDroneNotFound
	}

	return nil
}

func statusStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func page(limit, offset int) (int, int) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
