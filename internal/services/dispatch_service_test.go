package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/drone-dispatch/internal/events"
	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDispatchService_Assign(t *testing.T) {
	t.Run("claims the highest battery idle drone", func(t *testing.T) {
		h := newHarness(t)
		h.seedDrone(t, "D1", 40)
		h.seedDrone(t, "D2", 90)
		placed := h.placeDroneOrder(t)
		sub := h.bus.Subscribe(events.OrderRoom(placed.Order.ID))

		o, err := h.dispatch.Assign(asAdmin(), placed.Order.ID)
		require.NoError(t, err)
		assert.Equal(t, model.DroneOrderStatusAssigned, o.Status)
		require.NotNil(t, o.DroneID)
		assert.Equal(t, "D2", *o.DroneID)
		assert.Equal(t, model.DroneStatusAssigned, h.droneStatus(t, "D2"))
		assert.Equal(t, model.DroneStatusIdle, h.droneStatus(t, "D1"))

		a, err := h.assignments.GetActiveByOrder(context.Background(), placed.Order.ID)
		require.NoError(t, err)
		assert.Equal(t, "D2", a.DroneID)

		assert.Contains(t, types(drain(sub)), events.TypeAssigned)
		assert.Len(t, h.notifier.byTitle("Drone assigned"), 1)
	})

	t.Run("rejects a second assignment", func(t *testing.T) {
		h := newHarness(t)
		h.seedDrone(t, "D1", 80)
		h.seedDrone(t, "D2", 70)
		placed := h.placeDroneOrder(t)

		_, err := h.dispatch.Assign(asAdmin(), placed.Order.ID)
		require.NoError(t, err)
		_, err = h.dispatch.Assign(asAdmin(), placed.Order.ID)
		assert.ErrorIs(t, err, ErrAlreadyAssigned)
		assert.Equal(t, model.DroneStatusIdle, h.droneStatus(t, "D2"))
	})

	t.Run("no idle drone", func(t *testing.T) {
		h := newHarness(t)
		placed := h.placeDroneOrder(t)

		_, err := h.dispatch.Assign(asAdmin(), placed.Order.ID)
		assert.ErrorIs(t, err, ErrNoDroneAvailable)
		assert.Equal(t, KindConflict, KindOf(err))

		o, err := h.droneOrders.GetByOrderID(context.Background(), placed.Order.ID)
		require.NoError(t, err)
		assert.Equal(t, model.DroneOrderStatusPending, o.Status)
	})

	t.Run("terminal drone order", func(t *testing.T) {
		h := newHarness(t)
		h.seedDrone(t, "D1", 80)
		placed := h.placeDroneOrder(t)
		_, err := h.dispatch.Cancel(asUser(userID), placed.DroneOrder.ID, "changed my mind")
		require.NoError(t, err)

		_, err = h.dispatch.Assign(asAdmin(), placed.Order.ID)
		assert.ErrorIs(t, err, ErrDroneOrderTerminal)
	})

	t.Run("launched order keeps its drone", func(t *testing.T) {
		h := newHarness(t)
		h.seedDrone(t, "D1", 90)
		h.seedDrone(t, "D2", 80)
		placed := h.placeDroneOrder(t)
		_, err := h.dispatch.Assign(asAdmin(), placed.Order.ID)
		require.NoError(t, err)
		_, err = h.dispatch.Launch(asAdmin(), placed.Order.ID)
		require.NoError(t, err)
		_, err = h.dispatch.Land(asAdmin(), "D1")
		require.NoError(t, err)

		_, err = h.dispatch.Assign(asAdmin(), placed.Order.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, model.DroneStatusIdle, h.droneStatus(t, "D2"))

		o, err := h.droneOrders.GetByOrderID(context.Background(), placed.Order.ID)
		require.NoError(t, err)
		assert.Equal(t, model.DroneOrderStatusOutForDelivery, o.Status)
		assert.Equal(t, "D1", *o.DroneID)
	})

	t.Run("admins only", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.dispatch.Assign(asUser(userID), 1)
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = h.dispatch.Assign(context.Background(), 1)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("unknown order", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.dispatch.Assign(asAdmin(), 404)
		assert.ErrorIs(t, err, ErrDroneOrderNotFound)
	})
}

func TestDispatchService_AssignConcurrent(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 3; i++ {
		h.seedDrone(t, fmt.Sprintf("D%d", i), float64(50+i))
	}
	var orders []int64
	for i := 0; i < 5; i++ {
		orders = append(orders, h.placeDroneOrder(t).Order.ID)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	claimed := map[string]int64{}
	var failures []error
	for _, id := range orders {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			o, err := h.dispatch.Assign(asAdmin(), id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			claimed[*o.DroneID] = id
		}(id)
	}
	wg.Wait()

	assert.Len(t, claimed, 3, "every drone is claimed exactly once")
	require.Len(t, failures, 2)
	for _, err := range failures {
		assert.ErrorIs(t, err, ErrNoDroneAvailable)
	}
}

func TestDispatchService_AssignSameOrderConcurrent(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 3; i++ {
		h.seedDrone(t, fmt.Sprintf("D%d", i), float64(50+i))
	}
	placed := h.placeDroneOrder(t)

	const attempts = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes int
	var failures []error
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.dispatch.Assign(asAdmin(), placed.Order.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			successes++
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	require.Len(t, failures, attempts-1)
	for _, err := range failures {
		assert.Equal(t, KindConflict, KindOf(err), err.Error())
	}

	n, err := h.assignments.CountActiveByOrder(context.Background(), placed.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	idle := 0
	for i := 1; i <= 3; i++ {
		if h.droneStatus(t, fmt.Sprintf("D%d", i)) == model.DroneStatusIdle {
			idle++
		}
	}
	assert.Equal(t, 2, idle)
}

func TestDispatchService_Launch(t *testing.T) {
	t.Run("safe weather puts the drone in flight", func(t *testing.T) {
		h := newHarness(t)
		h.seedDrone(t, "D1", 90)
		placed := h.placeDroneOrder(t)
		_, err := h.dispatch.Assign(asAdmin(), placed.Order.ID)
		require.NoError(t, err)
		sub := h.bus.Subscribe(events.DroneRoom("D1"))

		res, err := h.dispatch.Launch(asAdmin(), placed.Order.ID)
		require.NoError(t, err)
		assert.Empty(t, res.Fallback)
		assert.Equal(t, model.DroneStatusInFlight, res.Drone.Status)
		assert.Equal(t, 120.0, res.Drone.Altitude)

		o := res.DroneOrder
		assert.Equal(t, model.DroneOrderStatusOutForDelivery, o.Status)
		require.NotNil(t, o.EstimatedDeliveryTime)
		assert.True(t, o.EstimatedDeliveryTime.After(time.Now()))
		require.NotNil(t, o.WeatherCheck)
		assert.True(t, o.WeatherCheck.IsSafe)
		require.NotNil(t, o.QRExpiresAt)
		assert.WithinDuration(t, time.Now().Add(5*time.Minute), *o.QRExpiresAt, 5*time.Second)

		assert.Contains(t, types(drain(sub)), events.TypeLaunched)
		assert.Len(t, h.notifier.byTitle("Drone launched"), 1)
	})

	cases := []struct {
		name    string
		weather model.WeatherCheck
		reason  model.FallbackReason
	}{
		{"unsafe weather", stormyWeather(), model.FallbackUnsafeWeather},
		{"weather lookup failure", failedWeather(), model.FallbackWeatherAPIFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name+" falls back to regular delivery", func(t *testing.T) {
			h := newHarness(t)
			h.seedDrone(t, "D1", 90)
			placed := h.placeDroneOrder(t)
			_, err := h.dispatch.Assign(asAdmin(), placed.Order.ID)
			require.NoError(t, err)
			h.weather.set(tc.weather)

			res, err := h.dispatch.Launch(asAdmin(), placed.Order.ID)
			require.NoError(t, err)
			assert.Equal(t, "regular", res.Fallback)
			assert.Equal(t, tc.reason, res.Reason)
			assert.Equal(t, model.DroneOrderStatusCancelled, res.DroneOrder.Status)
			require.NotNil(t, res.DroneOrder.CancelledBy)
			assert.Equal(t, model.CancelledBySystem, *res.DroneOrder.CancelledBy)
			assert.Equal(t, string(tc.reason), res.DroneOrder.CancellationReason)
			require.NotNil(t, res.DroneOrder.WeatherCheck, "snapshot is kept regardless of outcome")

			order, err := h.orders.Get(context.Background(), placed.Order.ID)
			require.NoError(t, err)
			assert.Equal(t, model.DeliveryTypeRegular, order.DeliveryType)
			require.NotNil(t, order.FallbackReason)
			assert.Equal(t, tc.reason, *order.FallbackReason)

			_, err = h.assignments.GetActiveByOrder(context.Background(), placed.Order.ID)
			assert.ErrorIs(t, err, repository.ErrAssignmentNotFound)
			assert.Equal(t, model.DroneStatusIdle, h.droneStatus(t, "D1"))

			alerts := h.notifier.byTitle("Switched to regular delivery")
			require.Len(t, alerts, 1)
			assert.Equal(t, model.NotificationWarning, alerts[0].Alert.Type)
			assert.Equal(t, userID, alerts[0].UserID)
			assert.True(t, alerts[0].Admins)
		})
	}

	t.Run("fallback sends an airborne drone home", func(t *testing.T) {
		h := newHarness(t)
		h.seedDrone(t, "D1", 90)
		placed := h.placeDroneOrder(t)
		_, err := h.order.UpdateShopStatus(asSeller(sellerID), placed.Order.ID, model.ShopStatusReady)
		require.NoError(t, err)
		_, err = h.dispatch.CallDroneToShop(asSeller(sellerID), placed.Order.ID, shopID, nil)
		require.NoError(t, err)
		require.Equal(t, model.DroneStatusEnRouteToShop, h.droneStatus(t, "D1"))
		h.weather.set(stormyWeather())

		res, err := h.dispatch.Launch(asAdmin(), placed.Order.ID)
		require.NoError(t, err)
		assert.Equal(t, "regular", res.Fallback)
		assert.Equal(t, model.DroneStatusReturning, h.droneStatus(t, "D1"))
	})

	t.Run("requires an assigned drone", func(t *testing.T) {
		h := newHarness(t)
		placed := h.placeDroneOrder(t)
		_, err := h.dispatch.Launch(asAdmin(), placed.Order.ID)
		assert.ErrorIs(t, err, ErrDroneNotAssigned)
	})

	t.Run("cannot launch twice", func(t *testing.T) {
		h := newHarness(t)
		h.seedDrone(t, "D1", 90)
		placed := h.placeDroneOrder(t)
		_, err := h.dispatch.Assign(asAdmin(), placed.Order.ID)
		require.NoError(t, err)
		_, err = h.dispatch.Launch(asAdmin(), placed.Order.ID)
		require.NoError(t, err)

		_, err = h.dispatch.Launch(asAdmin(), placed.Order.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestDispatchService_DroneCommands(t *testing.T) {
	setup := func(t *testing.T) (*harness, int64) {
		h := newHarness(t)
		h.seedDrone(t, "D1", 90)
		placed := h.placeDroneOrder(t)
		_, err := h.dispatch.Assign(asAdmin(), placed.Order.ID)
		require.NoError(t, err)
		_, err = h.dispatch.Launch(asAdmin(), placed.Order.ID)
		require.NoError(t, err)
		return h, placed.Order.ID
	}

	t.Run("land", func(t *testing.T) {
		h, orderID := setup(t)
		sub := h.bus.Subscribe(events.OrderRoom(orderID))

		d, err := h.dispatch.Land(asAdmin(), "D1")
		require.NoError(t, err)
		assert.Equal(t, model.DroneStatusLanded, d.Status)
		assert.Zero(t, d.Altitude)
		_, err = h.assignments.GetActiveByOrder(context.Background(), orderID)
		assert.ErrorIs(t, err, repository.ErrAssignmentNotFound)
		assert.Contains(t, types(drain(sub)), events.TypeLanded)
	})

	t.Run("return", func(t *testing.T) {
		h, orderID := setup(t)
		d, err := h.dispatch.Return(asAdmin(), "D1")
		require.NoError(t, err)
		assert.Equal(t, model.DroneStatusReturning, d.Status)
		_, err = h.assignments.GetActiveByOrder(context.Background(), orderID)
		assert.ErrorIs(t, err, repository.ErrAssignmentNotFound)
	})

	t.Run("emergency stop alerts the user and admins", func(t *testing.T) {
		h, orderID := setup(t)
		d, err := h.dispatch.EmergencyStop(asAdmin(), "D1")
		require.NoError(t, err)
		assert.Equal(t, model.DroneStatusStopped, d.Status)
		assert.Zero(t, d.Altitude)

		alerts := h.notifier.byTitle("Drone emergency stop")
		require.Len(t, alerts, 1)
		assert.Equal(t, model.NotificationError, alerts[0].Alert.Type)
		assert.Equal(t, userID, alerts[0].UserID)

		o, err := h.droneOrders.GetByOrderID(context.Background(), orderID)
		require.NoError(t, err)
		assert.Equal(t, model.DroneOrderStatusOutForDelivery, o.Status)
	})

	t.Run("unknown drone", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.dispatch.Land(asAdmin(), "ghost")
		assert.ErrorIs(t, err, ErrDroneNotFound)
	})
}

func TestDispatchService_GetStatus(t *testing.T) {
	setLow := func(t *testing.T, h *harness, battery float64) {
		_, err := h.drones.Update(context.Background(), "D1", model.DroneUpdate{Battery: &battery})
		require.NoError(t, err)
	}

	t.Run("healthy battery", func(t *testing.T) {
		h := newHarness(t)
		h.seedDrone(t, "D1", 90)
		v, err := h.dispatch.GetStatus(asAdmin(), "D1")
		require.NoError(t, err)
		assert.False(t, v.LowBattery)
		assert.Empty(t, v.ToastType)
		assert.Nil(t, v.Order)
	})

	t.Run("low battery with an order alerts user and admins", func(t *testing.T) {
		h := newHarness(t)
		h.seedDrone(t, "D1", 90)
		placed := h.placeDroneOrder(t)
		_, err := h.dispatch.Assign(asAdmin(), placed.Order.ID)
		require.NoError(t, err)
		setLow(t, h, 12)

		v, err := h.dispatch.GetStatus(asAdmin(), "D1")
		require.NoError(t, err)
		assert.True(t, v.LowBattery)
		assert.Equal(t, ToastWarning, v.ToastType)
		require.NotNil(t, v.Order)

		_, err = h.dispatch.GetStatusByOrder(asUser(userID), placed.Order.ID)
		require.NoError(t, err)

		alerts := h.notifier.byTitle("Low drone battery")
		require.Len(t, alerts, 2, "every status call alerts while no cooldown applies")
		assert.Equal(t, userID, alerts[0].UserID)
		assert.True(t, alerts[0].Admins)
	})

	t.Run("cooldown suppresses the alert but keeps the marker", func(t *testing.T) {
		h := newHarness(t)
		h.notifier.suppress = true
		h.seedDrone(t, "D1", 90)
		placed := h.placeDroneOrder(t)
		_, err := h.dispatch.Assign(asAdmin(), placed.Order.ID)
		require.NoError(t, err)
		setLow(t, h, 15)

		v, err := h.dispatch.GetStatusByOrder(asUser(userID), placed.Order.ID)
		require.NoError(t, err)
		assert.Equal(t, ToastWarning, v.ToastType)
		assert.Empty(t, h.notifier.byTitle("Low drone battery"))
	})

	t.Run("by order is restricted to its user", func(t *testing.T) {
		h := newHarness(t)
		h.seedDrone(t, "D1", 90)
		placed := h.placeDroneOrder(t)

		_, err := h.dispatch.GetStatusByOrder(asUser(userID), placed.Order.ID)
		assert.ErrorIs(t, err, ErrDroneNotAssigned)

		_, err = h.dispatch.Assign(asAdmin(), placed.Order.ID)
		require.NoError(t, err)
		_, err = h.dispatch.GetStatusByOrder(asUser(otherID), placed.Order.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestDispatchService_VerifyQrDelivery(t *testing.T) {
	launch := func(t *testing.T, h *harness) *PlacedOrder {
		h.seedDrone(t, "D1", 90)
		placed := h.placeDroneOrder(t)
		_, err := h.dispatch.Assign(asAdmin(), placed.Order.ID)
		require.NoError(t, err)
		_, err = h.dispatch.Launch(asAdmin(), placed.Order.ID)
		require.NoError(t, err)
		return placed
	}

	t.Run("confirms the delivery", func(t *testing.T) {
		h := newHarness(t)
		placed := launch(t, h)

		o, err := h.dispatch.VerifyQrDelivery(asUser(userID), placed.Order.ID, placed.DroneOrder.QRCode)
		require.NoError(t, err)
		assert.Equal(t, model.DroneOrderStatusDelivered, o.Status)
		require.NotNil(t, o.ActualDeliveryTime)

		order, err := h.orders.Get(context.Background(), placed.Order.ID)
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusDelivered, order.Status)

		history, err := h.orders.History(context.Background(), placed.Order.ID)
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusDelivered, history[len(history)-1].Status)

		_, err = h.assignments.GetActiveByOrder(context.Background(), placed.Order.ID)
		assert.ErrorIs(t, err, repository.ErrAssignmentNotFound)
		assert.Equal(t, model.DroneStatusReturning, h.droneStatus(t, "D1"))
		assert.Len(t, h.notifier.byTitle("Order delivered"), 1)

		_, err = h.dispatch.VerifyQrDelivery(asUser(userID), placed.Order.ID, placed.DroneOrder.QRCode)
		assert.ErrorIs(t, err, ErrAlreadyDelivered)
	})

	t.Run("expired code leaves the order untouched", func(t *testing.T) {
		h := newHarness(t)
		placed := launch(t, h)
		require.NoError(t, h.raw.Model(&repository.DroneOrderEntity{}).
			Where("id = ?", placed.DroneOrder.ID).
			Update("qr_expires_at", time.Now().UTC().Add(-time.Minute)).Error)

		_, err := h.dispatch.VerifyQrDelivery(asUser(userID), placed.Order.ID, placed.DroneOrder.QRCode)
		assert.ErrorIs(t, err, ErrQRExpired)

		o, err := h.droneOrders.Get(context.Background(), placed.DroneOrder.ID)
		require.NoError(t, err)
		assert.Equal(t, model.DroneOrderStatusOutForDelivery, o.Status)
	})

	t.Run("rejects bad codes and strangers", func(t *testing.T) {
		h := newHarness(t)
		placed := launch(t, h)

		_, err := h.dispatch.VerifyQrDelivery(asUser(userID), placed.Order.ID, "not-a-code")
		assert.ErrorIs(t, err, ErrQRInvalid)

		_, err = h.dispatch.VerifyQrDelivery(asUser(userID), placed.Order.ID, "DQR-"+fmt.Sprintf("%040d", 0))
		assert.ErrorIs(t, err, ErrQRInvalid)

		_, err = h.dispatch.VerifyQrDelivery(asUser(otherID), placed.Order.ID, placed.DroneOrder.QRCode)
		assert.ErrorIs(t, err, ErrForbidden)

		_, err = h.dispatch.VerifyQrDelivery(asSeller(sellerID), placed.Order.ID, placed.DroneOrder.QRCode)
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestDispatchService_CallDroneToShop(t *testing.T) {
	ready := func(t *testing.T, h *harness, orderID int64) {
		_, err := h.order.UpdateShopStatus(asSeller(sellerID), orderID, model.ShopStatusReady)
		require.NoError(t, err)
	}

	t.Run("sends a charged drone", func(t *testing.T) {
		h := newHarness(t)
		h.seedDrone(t, "LOW", 20)
		h.seedDrone(t, "OK", 60)
		placed := h.placeDroneOrder(t)
		ready(t, h, placed.Order.ID)

		shop := model.Location{Lat: 35.71, Lng: 51.41}
		o, err := h.dispatch.CallDroneToShop(asSeller(sellerID), placed.Order.ID, shopID, &shop)
		require.NoError(t, err)
		assert.Equal(t, model.DroneOrderStatusDroneEnRouteToShop, o.Status)
		assert.Equal(t, "OK", *o.DroneID)

		d, err := h.drones.Get(context.Background(), "OK")
		require.NoError(t, err)
		assert.Equal(t, model.DroneStatusEnRouteToShop, d.Status)
		require.NotNil(t, d.Destination)
		assert.Equal(t, shop, *d.Destination)

		_, err = h.assignments.GetActiveByOrder(context.Background(), placed.Order.ID)
		assert.NoError(t, err)
	})

	t.Run("battery at the pickup minimum is not enough", func(t *testing.T) {
		h := newHarness(t)
		h.seedDrone(t, "LOW", 20)
		placed := h.placeDroneOrder(t)
		ready(t, h, placed.Order.ID)

		_, err := h.dispatch.CallDroneToShop(asSeller(sellerID), placed.Order.ID, shopID, nil)
		assert.ErrorIs(t, err, ErrNoDroneForPickup)
		assert.Equal(t, KindUnavailable, KindOf(err))
	})

	t.Run("shop must be ready", func(t *testing.T) {
		h := newHarness(t)
		h.seedDrone(t, "OK", 60)
		placed := h.placeDroneOrder(t)

		_, err := h.dispatch.CallDroneToShop(asSeller(sellerID), placed.Order.ID, shopID, nil)
		assert.ErrorIs(t, err, ErrNotReadyForPickup)
	})

	t.Run("only the order's seller and shop", func(t *testing.T) {
		h := newHarness(t)
		placed := h.placeDroneOrder(t)

		_, err := h.dispatch.CallDroneToShop(asSeller(sellerID+1), placed.Order.ID, shopID, nil)
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = h.dispatch.CallDroneToShop(asSeller(sellerID), placed.Order.ID, shopID+1, nil)
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = h.dispatch.CallDroneToShop(asUser(userID), placed.Order.ID, shopID, nil)
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestDispatchService_Cancel(t *testing.T) {
	t.Run("assigned drone goes back to idle", func(t *testing.T) {
		h := newHarness(t)
		h.seedDrone(t, "D1", 90)
		placed := h.placeDroneOrder(t)
		_, err := h.dispatch.Assign(asAdmin(), placed.Order.ID)
		require.NoError(t, err)

		o, err := h.dispatch.Cancel(asSeller(sellerID), placed.DroneOrder.ID, "out of stock")
		require.NoError(t, err)
		assert.Equal(t, model.DroneOrderStatusCancelled, o.Status)
		assert.Equal(t, model.CancelledBySeller, *o.CancelledBy)
		assert.Equal(t, "out of stock", o.CancellationReason)
		assert.Equal(t, model.DroneStatusIdle, h.droneStatus(t, "D1"))
	})

	t.Run("airborne drone returns", func(t *testing.T) {
		h := newHarness(t)
		h.seedDrone(t, "D1", 90)
		placed := h.placeDroneOrder(t)
		_, err := h.dispatch.Assign(asAdmin(), placed.Order.ID)
		require.NoError(t, err)
		_, err = h.dispatch.Launch(asAdmin(), placed.Order.ID)
		require.NoError(t, err)

		_, err = h.dispatch.Cancel(asAdmin(), placed.DroneOrder.ID, "")
		require.NoError(t, err)
		assert.Equal(t, model.DroneStatusReturning, h.droneStatus(t, "D1"))
	})

	t.Run("strangers are rejected before the terminal check", func(t *testing.T) {
		h := newHarness(t)
		placed := h.placeDroneOrder(t)
		_, err := h.dispatch.Cancel(asUser(userID), placed.DroneOrder.ID, "")
		require.NoError(t, err)

		_, err = h.dispatch.Cancel(asUser(otherID), placed.DroneOrder.ID, "")
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = h.dispatch.Cancel(asUser(userID), placed.DroneOrder.ID, "")
		assert.ErrorIs(t, err, ErrDroneOrderTerminal)
	})
}

func TestDispatchService_SideEffectFailuresDoNotFail(t *testing.T) {
	n := &mockNotifier{}
	n.On("NotifyUser", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("store down"))
	n.On("NotifyAdmins", mock.Anything, mock.Anything).Return(errors.New("store down"))
	n.On("NotifyUserAndAdmins", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("store down"))

	h := newHarness(t, func(d *Dependencies) { d.Notifier = n })
	h.seedDrone(t, "D1", 90)
	placed := h.placeDroneOrder(t)

	o, err := h.dispatch.Assign(asAdmin(), placed.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DroneOrderStatusAssigned, o.Status)

	res, err := h.dispatch.Launch(asAdmin(), placed.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DroneOrderStatusOutForDelivery, res.DroneOrder.Status)

	n.AssertCalled(t, "NotifyUser", mock.Anything, userID, mock.Anything)
	n.AssertCalled(t, "NotifyUserAndAdmins", mock.Anything, userID, mock.Anything)
}
