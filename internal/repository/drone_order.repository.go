package repository

import (
	"context"
	"errors"

	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDroneOrderNotFound = errors.New("drone order not found")
	ErrDroneOrderExists   = errors.New("drone order already exists for order")
	// ErrStaleStatus is returned when a guarded update finds the row in another status.
	ErrStaleStatus = errors.New("drone order status changed concurrently")
)

var terminalDroneOrderStatuses = []string{
	string(model.DroneOrderStatusDelivered),
	string(model.DroneOrderStatusCancelled),
}

type DroneOrderRepository struct {
	*pg.DB
}

func NewDroneOrderRepository(db *pg.DB) *DroneOrderRepository {
	return &DroneOrderRepository{
		db,
	}
}

func (r *DroneOrderRepository) Create(ctx context.Context, o *model.DroneOrder) (*model.DroneOrder, error) {
	entity := toDroneOrderEntity(o)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		if pg.IsDuplicateKey(err) {
			return nil, ErrDroneOrderExists
		}
		return nil, err
	}

	return toDroneOrderModel(entity), nil
}

func (r *DroneOrderRepository) Get(ctx context.Context, id int64) (*model.DroneOrder, error) {
	return r.first(r.Read(ctx).WithContext(ctx).Where("id = ?", id))
}

func (r *DroneOrderRepository) GetByOrderID(ctx context.Context, orderID int64) (*model.DroneOrder, error) {
	return r.first(r.Read(ctx).WithContext(ctx).Where("order_id = ?", orderID))
}

// GetByOrderIDForUpdate locks the row for the rest of the surrounding transaction.
func (r *DroneOrderRepository) GetByOrderIDForUpdate(ctx context.Context, orderID int64) (*model.DroneOrder, error) {
	return r.first(r.Write(ctx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID))
}

func (r *DroneOrderRepository) GetByQRCode(ctx context.Context, qrCode string) (*model.DroneOrder, error) {
	return r.first(r.Read(ctx).WithContext(ctx).Where("qr_code = ?", qrCode))
}

func (r *DroneOrderRepository) GetByOrderAndQRCode(ctx context.Context, orderID int64, qrCode string) (*model.DroneOrder, error) {
	return r.first(r.Read(ctx).WithContext(ctx).Where("order_id = ? AND qr_code = ?", orderID, qrCode))
}

// FindActiveByDrone returns the most recent non-terminal order bound to the drone.
func (r *DroneOrderRepository) FindActiveByDrone(ctx context.Context, droneID string) (*model.DroneOrder, error) {
	return r.first(r.Read(ctx).WithContext(ctx).
		Where("drone_id = ? AND status NOT IN ?", droneID, terminalDroneOrderStatuses).
		Order("updated_at DESC"))
}

func (r *DroneOrderRepository) first(q *gorm.DB) (*model.DroneOrder, error) {
	var entity DroneOrderEntity
	if err := q.First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDroneOrderNotFound
		}
		return nil, err
	}
	return toDroneOrderModel(&entity), nil
}

// Save writes every mutable column of o, guarded on the status the caller
// read. ErrStaleStatus means another flow moved the order first.
func (r *DroneOrderRepository) Save(ctx context.Context, o *model.DroneOrder, expected model.DroneOrderStatus) (*model.DroneOrder, error) {
	entity := toDroneOrderEntity(o)

	result := r.Write(ctx).WithContext(ctx).
		Model(&DroneOrderEntity{}).
		Where("id = ? AND status = ?", o.ID, string(expected)).
		Select("*").
		Omit("id", "order_id", "created_at").
		Updates(entity)

	if result.Error != nil {
		if pg.IsDuplicateKey(result.Error) {
			return nil, ErrDroneOrderExists
		}
		return nil, result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.Get(ctx, o.ID); err != nil {
			return nil, err
		}
		return nil, ErrStaleStatus
	}

	return r.Get(ctx, o.ID)
}

func (r *DroneOrderRepository) List(ctx context.Context, f model.DroneOrderFilter) ([]*model.DroneOrder, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&DroneOrderEntity{})

	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", statusStrings(f.Statuses))
	}
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.SellerID != nil {
		q = q.Where("seller_id = ?", *f.SellerID)
	}
	if f.DroneID != nil && *f.DroneID != "" {
		q = q.Where("drone_id = ?", *f.DroneID)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}

	// Count before pagination
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at ASC, id ASC"
	if f.Desc {
		order = "created_at DESC, id DESC"
	}

	limit, offset := page(f.Limit, f.Offset)

	var entities []*DroneOrderEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toDroneOrderModels(entities), total, nil
}
