package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDroneOrder(orderID int64) *model.DroneOrder {
	return &model.DroneOrder{
		OrderID:  orderID,
		UserID:   10,
		SellerID: 20,
		QRCode:   fmt.Sprintf("DQR-%d", orderID),
		Status:   model.DroneOrderStatusPending,
		Pickup:   model.Location{Lat: 35.70, Lng: 51.40},
		Delivery: model.Location{Lat: 35.75, Lng: 51.45},
	}
}

func TestDroneOrderRepository_CreateAndLookup(t *testing.T) {
	repo := NewDroneOrderRepository(setupTestDB(t).DB)
	ctx := context.Background()

	checked := time.Now().UTC().Truncate(time.Second)
	o := newDroneOrder(1)
	o.WeatherCheck = &model.WeatherCheck{WindSpeed: 4, RainProbability: 10, Visibility: 9000, Condition: "clear", IsSafe: true, CheckedAt: checked}

	created, err := repo.Create(ctx, o)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	t.Run("duplicate order", func(t *testing.T) {
		dup := newDroneOrder(1)
		dup.QRCode = "other"
		_, err := repo.Create(ctx, dup)
		assert.ErrorIs(t, err, ErrDroneOrderExists)
	})

	t.Run("duplicate qr", func(t *testing.T) {
		dup := newDroneOrder(2)
		dup.QRCode = "DQR-1"
		_, err := repo.Create(ctx, dup)
		assert.ErrorIs(t, err, ErrDroneOrderExists)
	})

	t.Run("weather snapshot round trips", func(t *testing.T) {
		got, err := repo.GetByOrderID(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, got.WeatherCheck)
		assert.True(t, got.WeatherCheck.IsSafe)
		assert.Equal(t, "clear", got.WeatherCheck.Condition)
		assert.False(t, got.WeatherCheck.Failed())
	})

	t.Run("by qr", func(t *testing.T) {
		got, err := repo.GetByQRCode(ctx, "DQR-1")
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)

		_, err = repo.GetByOrderAndQRCode(ctx, 99, "DQR-1")
		assert.ErrorIs(t, err, ErrDroneOrderNotFound)
	})
}

func TestDroneOrderRepository_Save(t *testing.T) {
	repo := NewDroneOrderRepository(setupTestDB(t).DB)
	ctx := context.Background()

	o, err := repo.Create(ctx, newDroneOrder(5))
	require.NoError(t, err)

	t.Run("guarded on expected status", func(t *testing.T) {
		droneID := "D1"
		o.Status = model.DroneOrderStatusAssigned
		o.DroneID = &droneID
		saved, err := repo.Save(ctx, o, model.DroneOrderStatusPending)
		require.NoError(t, err)
		assert.Equal(t, model.DroneOrderStatusAssigned, saved.Status)
		require.NotNil(t, saved.DroneID)
		assert.Equal(t, "D1", *saved.DroneID)
	})

	t.Run("stale status", func(t *testing.T) {
		o.Status = model.DroneOrderStatusCancelled
		_, err := repo.Save(ctx, o, model.DroneOrderStatusPending)
		assert.ErrorIs(t, err, ErrStaleStatus)

		got, err := repo.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, model.DroneOrderStatusAssigned, got.Status)
	})

	t.Run("zero values are written", func(t *testing.T) {
		o.Status = model.DroneOrderStatusAssigned
		o.DroneID = nil
		o.AdminNotes = ""
		saved, err := repo.Save(ctx, o, model.DroneOrderStatusAssigned)
		require.NoError(t, err)
		assert.Nil(t, saved.DroneID)
	})

	t.Run("missing row", func(t *testing.T) {
		ghost := newDroneOrder(77)
		ghost.ID = 9999
		_, err := repo.Save(ctx, ghost, model.DroneOrderStatusPending)
		assert.ErrorIs(t, err, ErrDroneOrderNotFound)
	})
}

func TestDroneOrderRepository_FindActiveByDrone(t *testing.T) {
	repo := NewDroneOrderRepository(setupTestDB(t).DB)
	ctx := context.Background()
	droneID := "D9"

	done := newDroneOrder(1)
	done.DroneID = &droneID
	done.Status = model.DroneOrderStatusDelivered
	_, err := repo.Create(ctx, done)
	require.NoError(t, err)

	_, err = repo.FindActiveByDrone(ctx, droneID)
	assert.ErrorIs(t, err, ErrDroneOrderNotFound)

	active := newDroneOrder(2)
	active.DroneID = &droneID
	active.Status = model.DroneOrderStatusOutForDelivery
	_, err = repo.Create(ctx, active)
	require.NoError(t, err)

	got, err := repo.FindActiveByDrone(ctx, droneID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.OrderID)
}

func TestDroneOrderRepository_List(t *testing.T) {
	repo := NewDroneOrderRepository(setupTestDB(t).DB)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		o := newDroneOrder(i)
		if i%2 == 0 {
			o.Status = model.DroneOrderStatusCancelled
		}
		_, err := repo.Create(ctx, o)
		require.NoError(t, err)
	}

	orders, total, err := repo.List(ctx, model.DroneOrderFilter{Statuses: []model.DroneOrderStatus{model.DroneOrderStatusPending}})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, orders, 3)

	orders, total, err = repo.List(ctx, model.DroneOrderFilter{Limit: 2, Offset: 1, Desc: true})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	require.Len(t, orders, 2)
	assert.EqualValues(t, 4, orders[0].OrderID)
}
