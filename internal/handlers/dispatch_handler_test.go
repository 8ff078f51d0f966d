package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nimasrn/drone-dispatch/internal/auth"
	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/internal/services"
	xhttp "github.com/nimasrn/drone-dispatch/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type MockDispatchService struct {
	mock.Mock
}

func (m *MockDispatchService) Assign(ctx context.Context, orderID int64) (*model.DroneOrder, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DroneOrder), args.Error(1)
}

func (m *MockDispatchService) Launch(ctx context.Context, orderID int64) (*services.LaunchResult, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.LaunchResult), args.Error(1)
}

func (m *MockDispatchService) Land(ctx context.Context, droneID string) (*model.Drone, error) {
	return m.drone(m.Called(ctx, droneID))
}

func (m *MockDispatchService) Return(ctx context.Context, droneID string) (*model.Drone, error) {
	return m.drone(m.Called(ctx, droneID))
}

func (m *MockDispatchService) EmergencyStop(ctx context.Context, droneID string) (*model.Drone, error) {
	return m.drone(m.Called(ctx, droneID))
}

func (m *MockDispatchService) drone(args mock.Arguments) (*model.Drone, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Drone), args.Error(1)
}

func (m *MockDispatchService) GetStatus(ctx context.Context, droneID string) (*services.DroneStatusView, error) {
	args := m.Called(ctx, droneID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.DroneStatusView), args.Error(1)
}

func (m *MockDispatchService) GetStatusByOrder(ctx context.Context, orderID int64) (*services.DroneStatusView, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.DroneStatusView), args.Error(1)
}

func (m *MockDispatchService) VerifyQrDelivery(ctx context.Context, orderID int64, code string) (*model.DroneOrder, error) {
	args := m.Called(ctx, orderID, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DroneOrder), args.Error(1)
}

func (m *MockDispatchService) CallDroneToShop(ctx context.Context, orderID, shopID int64, loc *model.Location) (*model.DroneOrder, error) {
	args := m.Called(ctx, orderID, shopID, loc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DroneOrder), args.Error(1)
}

func (m *MockDispatchService) Cancel(ctx context.Context, droneOrderID int64, reason string) (*model.DroneOrder, error) {
	args := m.Called(ctx, droneOrderID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DroneOrder), args.Error(1)
}

func setupTestContext(method, path string, body []byte) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	return ctx
}

func withActor(ctx *xhttp.RequestCtx, a auth.Actor) *xhttp.RequestCtx {
	ctx.SetUserValue(actorValueKey, a)
	return ctx
}

func decodeError(t *testing.T, ctx *xhttp.RequestCtx) errorResponse {
	t.Helper()
	var r errorResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &r))
	return r
}

func actorIs(kind auth.Kind) interface{} {
	return mock.MatchedBy(func(ctx context.Context) bool {
		a, ok := auth.FromContext(ctx)
		return ok && a.Kind == kind
	})
}

func TestDispatchHandler_Assign(t *testing.T) {
	t.Run("returns the bound order", func(t *testing.T) {
		svc := new(MockDispatchService)
		h := NewDispatchHandler(svc)
		droneID := "D1"
		svc.On("Assign", actorIs(auth.KindAdmin), int64(42)).Return(&model.DroneOrder{
			ID: 7, OrderID: 42, Status: model.DroneOrderStatusAssigned, DroneID: &droneID,
		}, nil)

		ctx := withActor(setupTestContext("POST", "/admin/dispatch/42/assign", nil), auth.Admin(1))
		ctx.SetUserValue("orderId", "42")
		h.Assign(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		var o model.DroneOrder
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &o))
		assert.Equal(t, model.DroneOrderStatusAssigned, o.Status)
		require.NotNil(t, o.DroneID)
		assert.Equal(t, "D1", *o.DroneID)
		svc.AssertExpectations(t)
	})

	t.Run("no idle drone is a conflict", func(t *testing.T) {
		svc := new(MockDispatchService)
		h := NewDispatchHandler(svc)
		svc.On("Assign", mock.Anything, int64(42)).Return(nil, services.ErrNoDroneAvailable)

		ctx := setupTestContext("POST", "/admin/dispatch/42/assign", nil)
		ctx.SetUserValue("orderId", "42")
		h.Assign(ctx)

		assert.Equal(t, 409, ctx.Response.StatusCode())
		assert.Equal(t, "no_drone_available", decodeError(t, ctx).Code)
	})

	t.Run("invalid order id", func(t *testing.T) {
		svc := new(MockDispatchService)
		h := NewDispatchHandler(svc)

		ctx := setupTestContext("POST", "/admin/dispatch/abc/assign", nil)
		ctx.SetUserValue("orderId", "abc")
		h.Assign(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		svc.AssertNotCalled(t, "Assign", mock.Anything, mock.Anything)
	})
}

func TestDispatchHandler_Launch(t *testing.T) {
	t.Run("fallback is a success response", func(t *testing.T) {
		svc := new(MockDispatchService)
		h := NewDispatchHandler(svc)
		by := model.CancelledBySystem
		svc.On("Launch", mock.Anything, int64(42)).Return(&services.LaunchResult{
			DroneOrder: &model.DroneOrder{
				OrderID:            42,
				Status:             model.DroneOrderStatusCancelled,
				CancelledBy:        &by,
				CancellationReason: string(model.FallbackUnsafeWeather),
			},
			Fallback: "regular",
			Reason:   model.FallbackUnsafeWeather,
		}, nil)

		ctx := withActor(setupTestContext("POST", "/admin/dispatch/42/launch", nil), auth.Admin(1))
		ctx.SetUserValue("orderId", "42")
		h.Launch(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &body))
		assert.Equal(t, "regular", body["fallback"])
		assert.Equal(t, "unsafe_weather", body["reason"])
	})

	t.Run("launched drone", func(t *testing.T) {
		svc := new(MockDispatchService)
		h := NewDispatchHandler(svc)
		svc.On("Launch", mock.Anything, int64(42)).Return(&services.LaunchResult{
			DroneOrder: &model.DroneOrder{OrderID: 42, Status: model.DroneOrderStatusOutForDelivery},
			Drone:      &model.Drone{DroneID: "D1", Status: model.DroneStatusInFlight, Altitude: 120},
		}, nil)

		ctx := setupTestContext("POST", "/admin/dispatch/42/launch", nil)
		ctx.SetUserValue("orderId", "42")
		h.Launch(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &body))
		assert.NotContains(t, body, "fallback")
	})

	t.Run("forbidden for non admins", func(t *testing.T) {
		svc := new(MockDispatchService)
		h := NewDispatchHandler(svc)
		svc.On("Launch", mock.Anything, int64(42)).Return(nil, services.ErrForbidden)

		ctx := withActor(setupTestContext("POST", "/admin/dispatch/42/launch", nil), auth.User(10))
		ctx.SetUserValue("orderId", "42")
		h.Launch(ctx)

		assert.Equal(t, 403, ctx.Response.StatusCode())
	})
}

func TestDispatchHandler_DroneCommands(t *testing.T) {
	cases := []struct {
		method string
		call   func(h *DispatchHandler) func(*xhttp.RequestCtx)
		status model.DroneStatus
	}{
		{"Land", func(h *DispatchHandler) func(*xhttp.RequestCtx) { return h.Land }, model.DroneStatusLanded},
		{"Return", func(h *DispatchHandler) func(*xhttp.RequestCtx) { return h.Return }, model.DroneStatusReturning},
		{"EmergencyStop", func(h *DispatchHandler) func(*xhttp.RequestCtx) { return h.EmergencyStop }, model.DroneStatusStopped},
	}
	for _, tc := range cases {
		t.Run(tc.method, func(t *testing.T) {
			svc := new(MockDispatchService)
			h := NewDispatchHandler(svc)
			svc.On(tc.method, mock.Anything, "D1").Return(&model.Drone{DroneID: "D1", Status: tc.status}, nil)

			ctx := setupTestContext("POST", "/admin/drones/D1", nil)
			ctx.SetUserValue("droneId", "D1")
			tc.call(h)(ctx)

			assert.Equal(t, 200, ctx.Response.StatusCode())
			var d model.Drone
			require.NoError(t, json.Unmarshal(ctx.Response.Body(), &d))
			assert.Equal(t, tc.status, d.Status)
		})
	}

	t.Run("unknown drone", func(t *testing.T) {
		svc := new(MockDispatchService)
		h := NewDispatchHandler(svc)
		svc.On("Land", mock.Anything, "D9").Return(nil, services.ErrDroneNotFound)

		ctx := setupTestContext("POST", "/admin/drones/D9/land", nil)
		ctx.SetUserValue("droneId", "D9")
		h.Land(ctx)

		assert.Equal(t, 404, ctx.Response.StatusCode())
		assert.Equal(t, "drone_not_found", decodeError(t, ctx).Code)
	})
}

func TestDispatchHandler_DroneStatus(t *testing.T) {
	svc := new(MockDispatchService)
	h := NewDispatchHandler(svc)
	svc.On("GetStatus", mock.Anything, "D1").Return(&services.DroneStatusView{
		Drone:      &model.Drone{DroneID: "D1", Battery: 10},
		LowBattery: true,
		ToastType:  services.ToastWarning,
	}, nil)

	ctx := setupTestContext("GET", "/admin/drones/D1", nil)
	ctx.SetUserValue("droneId", "D1")
	h.DroneStatus(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &body))
	assert.Equal(t, "warning", body["toast_type"])
	assert.Equal(t, true, body["low_battery"])
}

func TestDispatchHandler_VerifyQr(t *testing.T) {
	t.Run("expired code", func(t *testing.T) {
		svc := new(MockDispatchService)
		h := NewDispatchHandler(svc)
		svc.On("VerifyQrDelivery", actorIs(auth.KindUser), int64(42), "DQR-abc").Return(nil, services.ErrQRExpired)

		body, _ := json.Marshal(verifyQrRequest{OrderID: 42, QRCode: "DQR-abc"})
		ctx := withActor(setupTestContext("POST", "/drone-orders/verify-qr", body), auth.User(10))
		h.VerifyQr(ctx)

		assert.Equal(t, 422, ctx.Response.StatusCode())
		assert.Equal(t, "qr_expired", decodeError(t, ctx).Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		svc := new(MockDispatchService)
		h := NewDispatchHandler(svc)

		ctx := setupTestContext("POST", "/drone-orders/verify-qr", []byte(`{"order_id": 42}`))
		h.VerifyQr(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		assert.Equal(t, "invalid_request", decodeError(t, ctx).Code)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		svc := new(MockDispatchService)
		h := NewDispatchHandler(svc)

		ctx := setupTestContext("POST", "/drone-orders/verify-qr", []byte("nope"))
		h.VerifyQr(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		assert.Contains(t, decodeError(t, ctx).Error, "invalid JSON")
	})
}

func TestDispatchHandler_CallDrone(t *testing.T) {
	svc := new(MockDispatchService)
	h := NewDispatchHandler(svc)
	svc.On("CallDroneToShop", mock.Anything, int64(42), int64(30), mock.MatchedBy(func(l *model.Location) bool {
		return l != nil && l.Lat == 35.7
	})).Return(nil, services.ErrNoDroneForPickup)

	body := []byte(`{"shop_id": 30, "shop_location": {"lat": 35.7, "lng": 51.4}}`)
	ctx := setupTestContext("POST", "/drone-orders/42/call-drone", body)
	ctx.SetUserValue("id", "42")
	h.CallDrone(ctx)

	assert.Equal(t, 503, ctx.Response.StatusCode())
	svc.AssertExpectations(t)
}

func TestDispatchHandler_Cancel(t *testing.T) {
	t.Run("without a body", func(t *testing.T) {
		svc := new(MockDispatchService)
		h := NewDispatchHandler(svc)
		by := model.CancelledByUser
		svc.On("Cancel", mock.Anything, int64(7), "").Return(&model.DroneOrder{
			ID: 7, Status: model.DroneOrderStatusCancelled, CancelledBy: &by,
		}, nil)

		ctx := setupTestContext("POST", "/drone-orders/7/cancel", nil)
		ctx.SetUserValue("id", "7")
		h.Cancel(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
	})

	t.Run("forbidden", func(t *testing.T) {
		svc := new(MockDispatchService)
		h := NewDispatchHandler(svc)
		svc.On("Cancel", mock.Anything, int64(7), "changed my mind").Return(nil, services.ErrForbidden)

		ctx := setupTestContext("POST", "/drone-orders/7/cancel", []byte(`{"reason":"changed my mind"}`))
		ctx.SetUserValue("id", "7")
		h.Cancel(ctx)

		assert.Equal(t, 403, ctx.Response.StatusCode())
	})

	t.Run("unexpected errors are hidden", func(t *testing.T) {
		svc := new(MockDispatchService)
		h := NewDispatchHandler(svc)
		svc.On("Cancel", mock.Anything, int64(7), "").Return(nil, errors.New("db is down"))

		ctx := setupTestContext("POST", "/drone-orders/7/cancel", nil)
		ctx.SetUserValue("id", "7")
		h.Cancel(ctx)

		assert.Equal(t, 500, ctx.Response.StatusCode())
		assert.NotContains(t, string(ctx.Response.Body()), "db is down")
	})
}
