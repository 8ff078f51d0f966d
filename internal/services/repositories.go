package services

import (
	"context"
	"errors"

	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/internal/repository"
)

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type DroneRepository interface {
	Create(ctx context.Context, d *model.Drone) (*model.Drone, error)
	Get(ctx context.Context, droneID string) (*model.Drone, error)
	List(ctx context.Context, f model.DroneFilter) ([]*model.Drone, int64, error) // results, totalCount
	ClaimIdle(ctx context.Context, req repository.ClaimRequest) (*model.Drone, error)
	ClaimByID(ctx context.Context, droneID string, req repository.ClaimRequest) (*model.Drone, error)
	Update(ctx context.Context, droneID string, u model.DroneUpdate) (*model.Drone, error)
	Release(ctx context.Context, droneID string) error
}

type DroneOrderRepository interface {
	Create(ctx context.Context, o *model.DroneOrder) (*model.DroneOrder, error)
	Get(ctx context.Context, id int64) (*model.DroneOrder, error)
	GetByOrderID(ctx context.Context, orderID int64) (*model.DroneOrder, error)
	GetByOrderIDForUpdate(ctx context.Context, orderID int64) (*model.DroneOrder, error)
	GetByOrderAndQRCode(ctx context.Context, orderID int64, qrCode string) (*model.DroneOrder, error)
	FindActiveByDrone(ctx context.Context, droneID string) (*model.DroneOrder, error)
	Save(ctx context.Context, o *model.DroneOrder, expected model.DroneOrderStatus) (*model.DroneOrder, error)
	List(ctx context.Context, f model.DroneOrderFilter) ([]*model.DroneOrder, int64, error)
}

type AssignmentRepository interface {
	Upsert(ctx context.Context, orderID int64, droneID, notes string) (*model.DroneAssignment, error)
	GetActiveByOrder(ctx context.Context, orderID int64) (*model.DroneAssignment, error)
	ReleaseByOrder(ctx context.Context, orderID int64, notes string) (bool, error)
	ReleaseByDrone(ctx context.Context, droneID string, notes string) (bool, error)
}

type OrderRepository interface {
	Create(ctx context.Context, o *model.Order) (*model.Order, error)
	Get(ctx context.Context, id int64) (*model.Order, error)
	SwitchToDrone(ctx context.Context, id, droneOrderID int64) error
	FallbackToRegular(ctx context.Context, id int64, reason model.FallbackReason) error
	UpdateShopStatus(ctx context.Context, id int64, status model.ShopStatus) error
	SetHandoffToken(ctx context.Context, id int64, token string) error
	SetStatus(ctx context.Context, id int64, status model.OrderStatus, note string) error
	History(ctx context.Context, orderID int64) ([]*model.OrderStatusHistory, error)
}

// WeatherGate returns a verdict for a location, a failed lookup is reported
// through WeatherCheck.Error rather than an error value.
type WeatherGate interface {
	Check(ctx context.Context, loc model.Location) model.WeatherCheck
}

// translate maps storage errors onto domain errors.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrDroneNotFound):
		return ErrDroneNotFound
	case errors.Is(err, repository.ErrDroneExists):
		return ErrDroneExists
	case errors.Is(err, repository.ErrDroneOrderNotFound):
		return ErrDroneOrderNotFound
	case errors.Is(err, repository.ErrDroneOrderExists):
		return ErrDroneOrderExists
	case errors.Is(err, repository.ErrOrderNotFound):
		return ErrOrderNotFound
	case errors.Is(err, repository.ErrStaleStatus):
		return ErrConcurrentTransition
	case errors.Is(err, repository.ErrDroneBusy):
		return ErrDroneBusy
	case errors.Is(err, repository.ErrNoIdleDrone), errors.Is(err, repository.ErrMaxRetriesExceeded):
		return ErrNoDroneAvailable.With(err)
	}
	return err
}
