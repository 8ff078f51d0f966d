package e2e

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/drone-dispatch/internal/auth"
	"github.com/nimasrn/drone-dispatch/internal/events"
	gateway "github.com/nimasrn/drone-dispatch/internal/gateways"
	"github.com/nimasrn/drone-dispatch/internal/handlers"
	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/internal/notification"
	"github.com/nimasrn/drone-dispatch/internal/processor"
	"github.com/nimasrn/drone-dispatch/internal/qr"
	"github.com/nimasrn/drone-dispatch/internal/queue"
	"github.com/nimasrn/drone-dispatch/internal/repository"
	"github.com/nimasrn/drone-dispatch/internal/services"
	xhttp "github.com/nimasrn/drone-dispatch/pkg/http"
	"github.com/nimasrn/drone-dispatch/pkg/pg"
	"github.com/nimasrn/drone-dispatch/test/fixtures"
	"github.com/nimasrn/drone-dispatch/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type TestEnvironment struct {
	DB      *pg.DB
	Weather *helpers.WeatherUpstream
	API     *helpers.APIClient
	Bus     *events.Bus
	Tokens  *auth.Tokens
}

func setupE2EEnvironment(t *testing.T) *TestEnvironment {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db := helpers.SetupTestDB(t)
	helpers.CreateTestAdmin(t, db, fixtures.AdminID)
	_, redisAdapter := helpers.SetupTestRedis(t)

	upstream, weatherDial := helpers.StartWeatherUpstream(t)
	weather, err := gateway.NewClient(&gateway.Config{
		Providers:               []gateway.ProviderConfig{{Name: "primary", URL: "http://weather.test", Weight: 100}},
		Thresholds:              gateway.Thresholds{MaxWindSpeed: 10, MaxRainProbability: 40, MinVisibility: 3000},
		Timeout:                 time.Second,
		RetryDelay:              time.Millisecond,
		CircuitBreakerThreshold: 100,
		CircuitBreakerTimeout:   time.Minute,
		Dial:                    weatherDial,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = weather.Close() })

	// realtime fan-out runs through redis exactly as between api instances
	bus := events.NewBus(256)
	t.Cleanup(bus.Close)
	ready := make(chan struct{})
	go func() { _ = events.Relay(ctx, redisAdapter, bus.Deliver, ready) }()
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("event relay did not subscribe")
	}
	publisher := events.NewRedisPublisher(redisAdapter)

	queueConfig := queue.Config{
		Name:              "notifications",
		ConsumerGroup:     "notifier",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      20 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	}
	q, err := queue.New(ctx, redisAdapter, queueConfig)
	require.NoError(t, err)

	notificationRepo := repository.NewNotificationRepository(db)
	notifier := notification.NewService(notificationRepo, repository.NewUserRepository(db), notification.WithQueue(q))

	worker := processor.NewService(redisAdapter, processor.Config{Queue: queueConfig, Consumers: 1, Workers: 2},
		processor.NewNotificationProcessor(notificationRepo, publisher,
			processor.NewIdempotencyService(redisAdapter, processor.DefaultIdempotencyConfig())))
	require.NoError(t, worker.Start(ctx))
	t.Cleanup(worker.Stop)

	deps := services.Dependencies{
		Tx:          db,
		Drones:      repository.NewDroneRepository(db),
		DroneOrders: repository.NewDroneOrderRepository(db),
		Assignments: repository.NewDroneAssignmentRepository(db),
		Orders:      repository.NewOrderRepository(db),
		Weather:     weather,
		Issuer:      qr.NewIssuer(fixtures.QRSecret, 5*time.Minute, 5*time.Minute),
		Notifier:    notifier,
		Publisher:   publisher,
	}
	cfg := services.DefaultDispatchConfig()
	cfg.CruiseSpeedKmh = fixtures.CruiseSpeed
	droneOrderService := services.NewDroneOrderService(deps)
	orderService := services.NewOrderService(deps, droneOrderService)

	tokens := auth.NewTokens(fixtures.JwtSecret, fixtures.JwtIssuer)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(handlers.AuthMiddleware(tokens))
	g := s.Router.Group("/api/v1")
	handlers.RegisterOrderRoutes(g, handlers.NewOrderHandler(orderService))
	handlers.RegisterDroneOrderRoutes(g, handlers.NewDroneOrderHandler(droneOrderService))
	handlers.RegisterDispatchRoutes(g, handlers.NewDispatchHandler(services.NewDispatchService(deps, cfg)))
	handlers.RegisterFleetRoutes(g, handlers.NewFleetHandler(services.NewFleetService(deps)))
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(services.NewHealthService(db, redisAdapter, weather)))

	return &TestEnvironment{
		DB:      db,
		Weather: upstream,
		API:     helpers.NewAPIClient(helpers.Serve(t, s.BuildHandler())),
		Bus:     bus,
		Tokens:  tokens,
	}
}

func (env *TestEnvironment) token(t *testing.T, a auth.Actor) string {
	return helpers.SignToken(t, env.Tokens, a)
}

func (env *TestEnvironment) placeDroneOrder(t *testing.T) services.PlacedOrder {
	var placed services.PlacedOrder
	status := env.API.DoJSON(t, http.MethodPost, "/api/v1/orders", env.token(t, fixtures.User), fixtures.DroneOrderRequest(), &placed)
	require.Equal(t, http.StatusCreated, status)
	require.NotNil(t, placed.DroneOrder)
	return placed
}

func (env *TestEnvironment) registerDrone(t *testing.T, id string, battery float64) {
	status, body := env.API.Do(t, http.MethodPost, "/api/v1/admin/drones", env.token(t, fixtures.Admin), model.DroneRegisterRequest{
		DroneID:  id,
		Battery:  battery,
		Location: fixtures.HangarLocation,
	})
	require.Equal(t, http.StatusCreated, status, string(body))
}

// recorder keeps every message delivered to its rooms.
type recorder struct {
	mu   sync.Mutex
	msgs []events.Message
}

func (env *TestEnvironment) record(t *testing.T, rooms ...string) *recorder {
	r := &recorder{}
	sub := env.Bus.Subscribe(rooms...)
	t.Cleanup(func() { env.Bus.Unsubscribe(sub) })
	go func() {
		for m := range sub.C {
			r.mu.Lock()
			r.msgs = append(r.msgs, m)
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *recorder) has(event, typ string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m.Event == event && (typ == "" || m.Type == typ) {
			return true
		}
	}
	return false
}

func TestE2E_DroneDeliveryFlow(t *testing.T) {
	env := setupE2EEnvironment(t)
	env.registerDrone(t, "DRN-001", 92)
	env.registerDrone(t, "DRN-002", 64)

	placed := env.placeDroneOrder(t)
	assert.Equal(t, model.DroneOrderStatusPending, placed.DroneOrder.Status)
	assert.NotEmpty(t, placed.DroneOrder.QRCode)
	orderID := placed.Order.ID

	orderRoom := env.record(t, events.OrderRoom(orderID))
	userRoom := env.record(t, events.UserRoom(fixtures.UserID))
	admin := env.token(t, fixtures.Admin)
	user := env.token(t, fixtures.User)

	var assigned model.DroneOrder
	status := env.API.DoJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/dispatch/%d/assign", orderID), admin, nil, &assigned)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, model.DroneOrderStatusAssigned, assigned.Status)
	require.NotNil(t, assigned.DroneID)
	assert.Equal(t, "DRN-001", *assigned.DroneID, "highest battery drone wins")

	var launched services.LaunchResult
	status = env.API.DoJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/dispatch/%d/launch", orderID), admin, nil, &launched)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, launched.Fallback)
	assert.Equal(t, model.DroneOrderStatusOutForDelivery, launched.DroneOrder.Status)
	assert.Equal(t, model.DroneStatusInFlight, launched.Drone.Status)
	require.NotNil(t, launched.DroneOrder.EstimatedDeliveryTime)
	assert.GreaterOrEqual(t, env.Weather.Calls(), 1)

	var view services.DroneStatusView
	status = env.API.DoJSON(t, http.MethodGet, fmt.Sprintf("/api/v1/drone-orders/%d/drone", orderID), user, nil, &view)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "DRN-001", view.Drone.DroneID)

	status, _ = env.API.Do(t, http.MethodGet, fmt.Sprintf("/api/v1/drone-orders/%d/drone", orderID), env.token(t, fixtures.Other), nil)
	assert.Equal(t, http.StatusForbidden, status)

	assert.True(t, helpers.WaitForCondition(t, 2*time.Second, func() bool {
		return orderRoom.has(events.EventDroneUpdate, events.TypeLaunched)
	}), "launch is pushed to the order room")
	assert.True(t, helpers.WaitForCondition(t, 3*time.Second, func() bool {
		return userRoom.has(events.EventNotificationNew, "")
	}), "the notifier delivers the launch notification")

	verify := map[string]interface{}{"order_id": orderID, "qr_code": placed.DroneOrder.QRCode}
	var delivered model.DroneOrder
	status = env.API.DoJSON(t, http.MethodPost, "/api/v1/drone-orders/verify-qr", user, verify, &delivered)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, model.DroneOrderStatusDelivered, delivered.Status)
	require.NotNil(t, delivered.ActualDeliveryTime)

	var errBody struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	status = env.API.DoJSON(t, http.MethodPost, "/api/v1/drone-orders/verify-qr", user, verify, &errBody)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "already_delivered", errBody.Code)

	var after services.DroneStatusView
	status = env.API.DoJSON(t, http.MethodGet, "/api/v1/admin/drones/DRN-001", admin, nil, &after)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, model.DroneStatusReturning, after.Drone.Status)
	assert.Nil(t, after.Order)

	var drone model.Drone
	status = env.API.DoJSON(t, http.MethodPost, "/api/v1/admin/drones/DRN-001/land", admin, nil, &drone)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, model.DroneStatusLanded, drone.Status)
	assert.Zero(t, drone.Altitude)

	var history struct {
		Items []model.OrderStatusHistory `json:"items"`
	}
	status = env.API.DoJSON(t, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d/history", orderID), user, nil, &history)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, history.Items)
	assert.Equal(t, model.OrderStatusDelivered, history.Items[len(history.Items)-1].Status)
}

func TestE2E_WeatherFallback(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(w *helpers.WeatherUpstream)
		reason model.FallbackReason
	}{
		{
			name:   "storm over the route",
			setup:  func(w *helpers.WeatherUpstream) { w.Set(24, 90, 700, "Thunderstorm") },
			reason: model.FallbackUnsafeWeather,
		},
		{
			name:   "weather provider down",
			setup:  func(w *helpers.WeatherUpstream) { w.Fail(http.StatusServiceUnavailable) },
			reason: model.FallbackWeatherAPIFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupE2EEnvironment(t)
			env.registerDrone(t, "DRN-001", 80)
			placed := env.placeDroneOrder(t)
			admin := env.token(t, fixtures.Admin)

			status, _ := env.API.Do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/dispatch/%d/assign", placed.Order.ID), admin, nil)
			require.Equal(t, http.StatusOK, status)
			tt.setup(env.Weather)

			var res services.LaunchResult
			status = env.API.DoJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/dispatch/%d/launch", placed.Order.ID), admin, nil, &res)
			require.Equal(t, http.StatusOK, status)
			assert.Equal(t, "regular", res.Fallback)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Equal(t, model.DroneOrderStatusCancelled, res.DroneOrder.Status)
			assert.Equal(t, string(tt.reason), res.DroneOrder.CancellationReason)
			require.NotNil(t, res.DroneOrder.WeatherCheck)

			var view services.DroneStatusView
			status = env.API.DoJSON(t, http.MethodGet, "/api/v1/admin/drones/DRN-001", admin, nil, &view)
			require.Equal(t, http.StatusOK, status)
			assert.Equal(t, model.DroneStatusIdle, view.Drone.Status, "the drone is released")

			// the freed drone can serve the next order
			next := env.placeDroneOrder(t)
			status, _ = env.API.Do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/dispatch/%d/assign", next.Order.ID), admin, nil)
			assert.Equal(t, http.StatusOK, status)
		})
	}
}

func TestE2E_ConcurrentAssignClaimsDroneOnce(t *testing.T) {
	env := setupE2EEnvironment(t)
	env.registerDrone(t, "DRN-001", 90)
	admin := env.token(t, fixtures.Admin)

	const orders = 4
	ids := make([]int64, orders)
	for i := range ids {
		ids[i] = env.placeDroneOrder(t).Order.ID
	}

	statuses := make([]int, orders)
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			statuses[i], _ = env.API.Do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/dispatch/%d/assign", id), admin, nil)
		}(i, id)
	}
	wg.Wait()

	counts := map[int]int{}
	for _, s := range statuses {
		counts[s]++
	}
	assert.Equal(t, 1, counts[http.StatusOK])
	assert.Equal(t, orders-1, counts[http.StatusConflict])
}

func TestE2E_ConcurrentAssignSameOrder(t *testing.T) {
	env := setupE2EEnvironment(t)
	env.registerDrone(t, "DRN-001", 90)
	env.registerDrone(t, "DRN-002", 80)
	env.registerDrone(t, "DRN-003", 70)
	admin := env.token(t, fixtures.Admin)
	placed := env.placeDroneOrder(t)
	path := fmt.Sprintf("/api/v1/admin/dispatch/%d/assign", placed.Order.ID)

	const attempts = 6
	statuses := make([]int, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			statuses[i], _ = env.API.Do(t, http.MethodPost, path, admin, nil)
		}(i)
	}
	wg.Wait()

	counts := map[int]int{}
	for _, s := range statuses {
		counts[s]++
	}
	assert.Equal(t, 1, counts[http.StatusOK])
	assert.Equal(t, attempts-1, counts[http.StatusConflict])

	active, err := repository.NewDroneAssignmentRepository(env.DB).CountActiveByOrder(context.Background(), placed.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)
}

func TestE2E_Authorization(t *testing.T) {
	env := setupE2EEnvironment(t)
	env.registerDrone(t, "DRN-001", 90)
	placed := env.placeDroneOrder(t)
	path := fmt.Sprintf("/api/v1/admin/dispatch/%d/assign", placed.Order.ID)

	status, _ := env.API.Do(t, http.MethodPost, path, "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = env.API.Do(t, http.MethodPost, path, env.token(t, fixtures.User), nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = env.API.Do(t, http.MethodPost, path, "Bearer not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = env.API.Do(t, http.MethodPost, fmt.Sprintf("/api/v1/drone-orders/%d/cancel", placed.DroneOrder.ID), env.token(t, fixtures.Other), nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestE2E_Health(t *testing.T) {
	env := setupE2EEnvironment(t)

	var report services.HealthReport
	status := env.API.DoJSON(t, http.MethodGet, "/api/v1/health", "", nil, &report)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", report.Status)
	assert.Equal(t, "up", report.Components["database"])
	assert.Equal(t, "up", report.Components["redis"])
	assert.Equal(t, "up", report.Components["weather"])
}
