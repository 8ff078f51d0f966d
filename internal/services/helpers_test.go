package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/drone-dispatch/internal/auth"
	"github.com/nimasrn/drone-dispatch/internal/events"
	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/internal/notification"
	"github.com/nimasrn/drone-dispatch/internal/qr"
	"github.com/nimasrn/drone-dispatch/internal/repository"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	userID   int64 = 10
	otherID  int64 = 11
	sellerID int64 = 20
	shopID   int64 = 30
	adminID  int64 = 1
)

var (
	pickup   = model.Location{Lat: 35.7000, Lng: 51.4000}
	delivery = model.Location{Lat: 35.7500, Lng: 51.4500}
)

func asUser(id int64) context.Context   { return auth.WithActor(context.Background(), auth.User(id)) }
func asSeller(id int64) context.Context { return auth.WithActor(context.Background(), auth.Seller(id)) }
func asAdmin() context.Context          { return auth.WithActor(context.Background(), auth.Admin(adminID)) }

type fakeWeather struct {
	mu    sync.Mutex
	next  model.WeatherCheck
	calls int
}

func (f *fakeWeather) Check(_ context.Context, _ model.Location) model.WeatherCheck {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	w := f.next
	w.CheckedAt = time.Now().UTC()
	return w
}

func (f *fakeWeather) set(w model.WeatherCheck) {
	f.mu.Lock()
	f.next = w
	f.mu.Unlock()
}

func safeWeather() model.WeatherCheck {
	return model.WeatherCheck{WindSpeed: 3, RainProbability: 5, Visibility: 9000, Condition: "Clear", IsSafe: true}
}

func stormyWeather() model.WeatherCheck {
	return model.WeatherCheck{WindSpeed: 22, RainProbability: 90, Visibility: 800, Condition: "Thunderstorm", IsSafe: false}
}

func failedWeather() model.WeatherCheck {
	return model.WeatherCheck{Condition: "Unknown", Error: "all weather providers failed"}
}

type sentAlert struct {
	UserID int64 // zero for admin-only alerts
	Admins bool
	Alert  notification.Alert
}

type recordingNotifier struct {
	mu       sync.Mutex
	sent     []sentAlert
	suppress bool
}

func (n *recordingNotifier) add(s sentAlert) error {
	n.mu.Lock()
	n.sent = append(n.sent, s)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) NotifyUser(_ context.Context, id int64, a notification.Alert) error {
	return n.add(sentAlert{UserID: id, Alert: a})
}

func (n *recordingNotifier) NotifyAdmins(_ context.Context, a notification.Alert) error {
	return n.add(sentAlert{Admins: true, Alert: a})
}

func (n *recordingNotifier) NotifyUserAndAdmins(_ context.Context, id int64, a notification.Alert) error {
	return n.add(sentAlert{UserID: id, Admins: true, Alert: a})
}

func (n *recordingNotifier) AllowLowBatteryAlert(context.Context, string, int64) bool {
	return !n.suppress
}

func (n *recordingNotifier) byTitle(title string) []sentAlert {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentAlert
	for _, s := range n.sent {
		if s.Alert.Title == title {
			out = append(out, s)
		}
	}
	return out
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyUser(ctx context.Context, id int64, a notification.Alert) error {
	return m.Called(ctx, id, a).Error(0)
}

func (m *mockNotifier) NotifyAdmins(ctx context.Context, a notification.Alert) error {
	return m.Called(ctx, a).Error(0)
}

func (m *mockNotifier) NotifyUserAndAdmins(ctx context.Context, id int64, a notification.Alert) error {
	return m.Called(ctx, id, a).Error(0)
}

func (m *mockNotifier) AllowLowBatteryAlert(ctx context.Context, droneID string, orderID int64) bool {
	return m.Called(ctx, droneID, orderID).Bool(0)
}

type harness struct {
	raw         *gorm.DB
	drones      *repository.DroneRepository
	droneOrders *repository.DroneOrderRepository
	assignments *repository.DroneAssignmentRepository
	orders      *repository.OrderRepository
	weather     *fakeWeather
	notifier    *recordingNotifier
	bus         *events.Bus

	dispatch   *DispatchService
	droneOrder *DroneOrderService
	fleet      *FleetService
	order      *OrderService
}

func newHarness(t *testing.T, opts ...func(*Dependencies)) *harness {
	t.Helper()
	db, raw := repository.OpenTestDB(t)

	h := &harness{
		raw:         raw,
		drones:      repository.NewDroneRepository(db),
		droneOrders: repository.NewDroneOrderRepository(db),
		assignments: repository.NewDroneAssignmentRepository(db),
		orders:      repository.NewOrderRepository(db),
		weather:     &fakeWeather{next: safeWeather()},
		notifier:    &recordingNotifier{},
		bus:         events.NewBus(128),
	}
	t.Cleanup(h.bus.Close)

	deps := Dependencies{
		Tx:          db,
		Drones:      h.drones,
		DroneOrders: h.droneOrders,
		Assignments: h.assignments,
		Orders:      h.orders,
		Weather:     h.weather,
		Issuer:      qr.NewIssuer("test-secret", 5*time.Minute, 5*time.Minute),
		Notifier:    h.notifier,
		Publisher:   h.bus,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	h.dispatch = NewDispatchService(deps, DefaultDispatchConfig())
	h.droneOrder = NewDroneOrderService(deps)
	h.fleet = NewFleetService(deps)
	h.order = NewOrderService(deps, h.droneOrder)
	return h
}

func (h *harness) seedDrone(t *testing.T, id string, battery float64) {
	t.Helper()
	_, err := h.drones.Create(context.Background(), &model.Drone{
		DroneID:  id,
		Battery:  battery,
		Location: pickup,
		Status:   model.DroneStatusIdle,
	})
	require.NoError(t, err)
}

// placeDroneOrder places a drone delivery order for userID.
func (h *harness) placeDroneOrder(t *testing.T) *PlacedOrder {
	t.Helper()
	placed, err := h.order.CreateOrder(asUser(userID), model.OrderCreateRequest{
		ShopID:       shopID,
		SellerID:     sellerID,
		DeliveryType: model.DeliveryTypeDrone,
		Pickup:       pickup,
		Delivery:     delivery,
		Address:      "12 Valiasr St",
	})
	require.NoError(t, err)
	require.NotNil(t, placed.DroneOrder)
	return placed
}

func (h *harness) droneStatus(t *testing.T, id string) model.DroneStatus {
	t.Helper()
	d, err := h.drones.Get(context.Background(), id)
	require.NoError(t, err)
	return d.Status
}

func drain(s *events.Subscription) []events.Message {
	var out []events.Message
	for {
		select {
		case m, ok := <-s.C:
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func types(msgs []events.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}
