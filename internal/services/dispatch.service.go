package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/drone-dispatch/internal/auth"
	"github.com/nimasrn/drone-dispatch/internal/events"
	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/internal/qr"
	"github.com/nimasrn/drone-dispatch/internal/repository"
	"github.com/nimasrn/drone-dispatch/pkg/geo"
	"github.com/nimasrn/drone-dispatch/pkg/logger"
	"github.com/nimasrn/drone-dispatch/pkg/prom"
)

const ToastWarning = "warning"

type DispatchConfig struct {
	// LowBatteryThreshold marks a drone at or below it as low.
	LowBatteryThreshold float64
	// PickupMinBattery is the battery a drone called to a shop must exceed.
	PickupMinBattery float64
	CruiseAltitude   float64
	CruiseSpeedKmh   float64
}

func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		LowBatteryThreshold: 15,
		PickupMinBattery:    20,
		CruiseAltitude:      120,
		CruiseSpeedKmh:      40,
	}
}

// Dependencies groups the collaborators shared by the dispatch services.
type Dependencies struct {
	Tx          Transactor
	Drones      DroneRepository
	DroneOrders DroneOrderRepository
	Assignments AssignmentRepository
	Orders      OrderRepository
	Weather     WeatherGate
	Issuer      *qr.Issuer
	Notifier    Notifier
	Publisher   events.Publisher
}

// DispatchService coordinates drones and drone orders. Every transition
// commits its storage writes in one transaction; notifications and realtime
// pushes run after the commit.
type DispatchService struct {
	tx          Transactor
	drones      DroneRepository
	droneOrders DroneOrderRepository
	assignments AssignmentRepository
	orders      OrderRepository
	weather     WeatherGate
	issuer      *qr.Issuer
	effects
	cfg DispatchConfig
	now func() time.Time
}

func NewDispatchService(d Dependencies, cfg DispatchConfig) *DispatchService {
	return &DispatchService{
		tx:          d.Tx,
		drones:      d.Drones,
		droneOrders: d.DroneOrders,
		assignments: d.Assignments,
		orders:      d.Orders,
		weather:     d.Weather,
		issuer:      d.Issuer,
		effects:     newEffects(d.Notifier, d.Publisher),
		cfg:         cfg,
		now:         time.Now,
	}
}

// LaunchResult reports either a launched drone or a switch to regular delivery.
type LaunchResult struct {
	DroneOrder *model.DroneOrder    `json:"drone_order"`
	Drone      *model.Drone         `json:"drone,omitempty"`
	Fallback   string               `json:"fallback,omitempty"`
	Reason     model.FallbackReason `json:"reason,omitempty"`
}

// DroneStatusView is a drone snapshot with its active order, if any.
type DroneStatusView struct {
	Drone      *model.Drone      `json:"drone"`
	Order      *model.DroneOrder `json:"order,omitempty"`
	LowBattery bool              `json:"low_battery"`
	ToastType  string            `json:"toast_type,omitempty"`
}

// Assign binds the highest-battery idle drone to the order.
func (s *DispatchService) Assign(ctx context.Context, orderID int64) (*model.DroneOrder, error) {
	if _, err := actor(ctx, auth.KindAdmin); err != nil {
		return nil, err
	}

	var out *model.DroneOrder
	var drone *model.Drone
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		o, err := s.droneOrders.GetByOrderIDForUpdate(ctx, orderID)
		if err != nil {
			return translate(err)
		}
		if o.Status.Terminal() {
			return ErrDroneOrderTerminal
		}
		if !o.Status.Assignable() {
			return ErrInvalidTransition.WithMessage(fmt.Sprintf("cannot assign a drone order in status %s", o.Status))
		}
		if err := s.ensureUnassigned(ctx, orderID); err != nil {
			return err
		}

		pickup := o.Pickup
		d, err := s.drones.ClaimIdle(ctx, repository.ClaimRequest{
			Status:      model.DroneStatusAssigned,
			Destination: &pickup,
		})
		if err != nil {
			return translate(err)
		}

		expected := o.Status
		o.Status = model.DroneOrderStatusAssigned
		o.DroneID = &d.DroneID
		if out, err = s.droneOrders.Save(ctx, o, expected); err != nil {
			return translate(err)
		}
		if _, err := s.assignments.Upsert(ctx, orderID, d.DroneID, "assigned by admin"); err != nil {
			return fmt.Errorf("upsert assignment: %w", err)
		}
		drone = d
		return nil
	})
	record("assign", err)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "assign", events.DroneUpdate{
		Type:    events.TypeAssigned,
		OrderID: orderID,
		DroneID: drone.DroneID,
		Status:  string(out.Status),
		Drone:   drone,
		Order:   out,
	}, events.OrderRoom(orderID), events.DroneRoom(drone.DroneID), events.AdminsRoom)
	s.notifyUser(ctx, "assign", out.UserID, alertFor(model.NotificationInfo, "Drone assigned",
		fmt.Sprintf("Drone %s has been assigned to your order", drone.DroneID), orderID, out.DroneID))

	return out, nil
}

// Launch re-checks the weather at the delivery point. A safe verdict puts
// the drone in flight, anything else cancels the drone delivery and moves
// the order back to regular delivery.
func (s *DispatchService) Launch(ctx context.Context, orderID int64) (*LaunchResult, error) {
	if _, err := actor(ctx, auth.KindAdmin); err != nil {
		return nil, err
	}

	o, err := s.droneOrders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, translate(err)
	}
	if o.DroneID == nil {
		return nil, ErrDroneNotAssigned
	}
	if o.Status.Terminal() {
		return nil, ErrDroneOrderTerminal
	}
	if !o.Status.Launchable() {
		return nil, ErrInvalidTransition.WithMessage(fmt.Sprintf("cannot launch a drone order in status %s", o.Status))
	}
	d, err := s.drones.Get(ctx, *o.DroneID)
	if err != nil {
		return nil, translate(err)
	}
	if d.Status != model.DroneStatusAssigned && d.Status != model.DroneStatusEnRouteToShop {
		return nil, ErrInvalidTransition.WithMessage(fmt.Sprintf("drone %s is %s", d.DroneID, d.Status))
	}

	w := s.weather.Check(ctx, o.Delivery)
	o.WeatherCheck = &w
	switch {
	case w.Failed():
		return s.fallback(ctx, o, model.FallbackWeatherAPIFailure)
	case !w.IsSafe:
		return s.fallback(ctx, o, model.FallbackUnsafeWeather)
	}

	now := s.now().UTC()
	eta := now.Add(geo.FlightTime(point(o.Pickup), point(o.Delivery), s.cfg.CruiseSpeedKmh))
	qrExpiry := s.issuer.Expiry(now)

	var out *model.DroneOrder
	var launched *model.Drone
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		status := model.DroneStatusInFlight
		altitude := s.cfg.CruiseAltitude
		delivery := o.Delivery
		var err error
		launched, err = s.drones.Update(ctx, d.DroneID, model.DroneUpdate{
			Status:      &status,
			Altitude:    &altitude,
			Destination: &delivery,
		})
		if err != nil {
			return translate(err)
		}

		expected := o.Status
		current := o.Pickup
		o.Status = model.DroneOrderStatusOutForDelivery
		o.EstimatedDeliveryTime = &eta
		o.QRExpiresAt = &qrExpiry
		o.CurrentLocation = &current
		out, err = s.droneOrders.Save(ctx, o, expected)
		return translate(err)
	})
	record("launch", err)
	if err != nil {
		return nil, err
	}

	s.notifyUserAndAdmins(ctx, "launch", out.UserID, alertFor(model.NotificationInfo, "Drone launched",
		fmt.Sprintf("Your order is on its way, estimated arrival %s", eta.Format(time.Kitchen)), orderID, out.DroneID))
	s.publish(ctx, "launch", events.DroneUpdate{
		Type:    events.TypeLaunched,
		OrderID: orderID,
		DroneID: launched.DroneID,
		Status:  string(launched.Status),
		Drone:   launched,
		Order:   out,
	}, events.OrderRoom(orderID), events.DroneRoom(launched.DroneID), events.AdminsRoom)

	return &LaunchResult{DroneOrder: out, Drone: launched}, nil
}

func (s *DispatchService) fallback(ctx context.Context, o *model.DroneOrder, reason model.FallbackReason) (*LaunchResult, error) {
	droneID := *o.DroneID
	msg := "Weather conditions are unsafe for drone delivery"
	if reason == model.FallbackWeatherAPIFailure {
		msg = "Weather service is unavailable"
	}

	var out *model.DroneOrder
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		expected := o.Status
		by := model.CancelledBySystem
		o.Status = model.DroneOrderStatusCancelled
		o.CancelledBy = &by
		o.CancellationReason = string(reason)

		var err error
		if out, err = s.droneOrders.Save(ctx, o, expected); err != nil {
			return translate(err)
		}
		if err := s.orders.FallbackToRegular(ctx, o.OrderID, reason); err != nil {
			return translate(err)
		}
		if _, err := s.assignments.ReleaseByOrder(ctx, o.OrderID, "weather fallback"); err != nil {
			return fmt.Errorf("release assignment: %w", err)
		}
		if err := s.sendHome(ctx, droneID); err != nil {
			return fmt.Errorf("release drone: %w", err)
		}
		return nil
	})
	if err != nil {
		record("launch", err)
		return nil, err
	}

	prom.IncDispatchOperation("launch", "fallback")
	prom.IncDispatchFallback(string(reason))
	logger.Info("drone launch switched to regular delivery", "order_id", o.OrderID, "drone_id", droneID, "reason", reason)

	s.notifyUserAndAdmins(ctx, "launch", out.UserID, alertFor(model.NotificationWarning, "Switched to regular delivery",
		msg+", your order will be delivered by courier", o.OrderID, &droneID))
	s.publish(ctx, "launch", events.DroneUpdate{
		Type:    events.TypeStatus,
		OrderID: o.OrderID,
		DroneID: droneID,
		Status:  string(out.Status),
		Order:   out,
		Data:    map[string]string{"fallback": string(model.DeliveryTypeRegular), "reason": string(reason)},
	}, events.OrderRoom(o.OrderID), events.DroneRoom(droneID), events.AdminsRoom)

	return &LaunchResult{DroneOrder: out, Fallback: string(model.DeliveryTypeRegular), Reason: reason}, nil
}

// Land puts the drone on the ground and closes its assignments.
func (s *DispatchService) Land(ctx context.Context, droneID string) (*model.Drone, error) {
	status := model.DroneStatusLanded
	altitude := 0.0
	d, err := s.move(ctx, "land", droneID, model.DroneUpdate{Status: &status, Altitude: &altitude}, "landed")
	if err != nil {
		return nil, err
	}
	s.publishDrone(ctx, "land", events.TypeLanded, d)
	return d, nil
}

// Return sends the drone back to base and closes its assignments.
func (s *DispatchService) Return(ctx context.Context, droneID string) (*model.Drone, error) {
	status := model.DroneStatusReturning
	d, err := s.move(ctx, "return", droneID, model.DroneUpdate{Status: &status}, "returning to base")
	if err != nil {
		return nil, err
	}
	s.publishDrone(ctx, "return", events.TypeReturning, d)
	return d, nil
}

// EmergencyStop halts the drone where it is. The drone order is left as is
// for an operator to resolve.
func (s *DispatchService) EmergencyStop(ctx context.Context, droneID string) (*model.Drone, error) {
	status := model.DroneStatusStopped
	altitude := 0.0
	d, err := s.move(ctx, "emergency_stop", droneID, model.DroneUpdate{Status: &status, Altitude: &altitude}, "")
	if err != nil {
		return nil, err
	}

	o := s.activeOrder(ctx, droneID)
	if o != nil {
		s.notifyUserAndAdmins(ctx, "emergency_stop", o.UserID, alertFor(model.NotificationError, "Drone emergency stop",
			fmt.Sprintf("Drone %s carrying your order was stopped", droneID), o.OrderID, &d.DroneID))
	} else {
		s.notifyAdmins(ctx, "emergency_stop", alertFor(model.NotificationError, "Drone emergency stop",
			fmt.Sprintf("Drone %s was stopped", droneID), 0, &d.DroneID))
	}
	s.publishDrone(ctx, "emergency_stop", events.TypeEmergencyStop, d)
	return d, nil
}

// move applies an admin drone command. A non-empty release note closes the
// drone's active assignments in the same transaction.
func (s *DispatchService) move(ctx context.Context, op, droneID string, u model.DroneUpdate, release string) (*model.Drone, error) {
	if _, err := actor(ctx, auth.KindAdmin); err != nil {
		return nil, err
	}

	var d *model.Drone
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		if d, err = s.drones.Update(ctx, droneID, u); err != nil {
			return translate(err)
		}
		if release == "" {
			return nil
		}
		if _, err := s.assignments.ReleaseByDrone(ctx, droneID, release); err != nil {
			return fmt.Errorf("release assignment: %w", err)
		}
		return nil
	})
	record(op, err)
	return d, err
}

func (s *DispatchService) publishDrone(ctx context.Context, op, typ string, d *model.Drone) {
	u := events.DroneUpdate{Type: typ, DroneID: d.DroneID, Status: string(d.Status), Drone: d}
	rooms := []string{events.DroneRoom(d.DroneID), events.AdminsRoom}
	if o := s.activeOrder(ctx, d.DroneID); o != nil {
		u.OrderID = o.OrderID
		rooms = append(rooms, events.OrderRoom(o.OrderID))
	}
	s.publish(ctx, op, u, rooms...)
}

// GetStatus returns the drone with its active order.
func (s *DispatchService) GetStatus(ctx context.Context, droneID string) (*DroneStatusView, error) {
	if _, err := actor(ctx, auth.KindAdmin); err != nil {
		return nil, err
	}
	d, err := s.drones.Get(ctx, droneID)
	if err != nil {
		return nil, translate(err)
	}
	return s.statusView(ctx, d, s.activeOrder(ctx, droneID)), nil
}

// GetStatusByOrder returns the drone serving the order, for its user or an admin.
func (s *DispatchService) GetStatusByOrder(ctx context.Context, orderID int64) (*DroneStatusView, error) {
	a, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	o, err := s.droneOrders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, translate(err)
	}
	if !a.IsAdmin() && !a.IsUser(o.UserID) {
		return nil, ErrForbidden
	}
	if o.DroneID == nil {
		return nil, ErrDroneNotAssigned
	}
	d, err := s.drones.Get(ctx, *o.DroneID)
	if err != nil {
		return nil, translate(err)
	}
	return s.statusView(ctx, d, o), nil
}

// statusView flags a low battery and alerts the order's user and the
// admins about it.
func (s *DispatchService) statusView(ctx context.Context, d *model.Drone, o *model.DroneOrder) *DroneStatusView {
	v := &DroneStatusView{Drone: d, Order: o}
	if d.Battery > s.cfg.LowBatteryThreshold {
		return v
	}
	v.LowBattery = true
	v.ToastType = ToastWarning

	if o == nil || o.Status.Terminal() || s.notifier == nil {
		return v
	}
	if !s.notifier.AllowLowBatteryAlert(ctx, d.DroneID, o.OrderID) {
		return v
	}
	s.notifyUserAndAdmins(ctx, "status", o.UserID, alertFor(model.NotificationWarning, "Low drone battery",
		fmt.Sprintf("Drone %s battery is at %.0f%%", d.DroneID, d.Battery), o.OrderID, &d.DroneID))
	return v
}

// VerifyQrDelivery confirms a drone delivery with the code shown to the user.
func (s *DispatchService) VerifyQrDelivery(ctx context.Context, orderID int64, code string) (*model.DroneOrder, error) {
	a, err := actor(ctx, auth.KindUser)
	if err != nil {
		return nil, err
	}
	if !s.issuer.WellFormed(code) {
		return nil, ErrQRInvalid
	}

	o, err := s.droneOrders.GetByOrderAndQRCode(ctx, orderID, code)
	if errors.Is(err, repository.ErrDroneOrderNotFound) {
		return nil, ErrQRInvalid
	}
	if err != nil {
		return nil, err
	}
	if !a.IsUser(o.UserID) {
		return nil, ErrForbidden
	}
	order, err := s.orders.Get(ctx, o.OrderID)
	if err != nil {
		return nil, translate(err)
	}
	if order.DeliveryType != model.DeliveryTypeDrone {
		return nil, ErrNotDroneDelivery
	}
	switch o.Status {
	case model.DroneOrderStatusDelivered:
		return nil, ErrAlreadyDelivered
	case model.DroneOrderStatusCancelled:
		return nil, ErrDroneOrderTerminal
	}
	if err := s.issuer.Verify(code, o.QRExpiresAt); err != nil {
		if errors.Is(err, qr.ErrExpired) {
			return nil, ErrQRExpired
		}
		return nil, ErrQRInvalid.With(err)
	}

	now := s.now().UTC()
	var out *model.DroneOrder
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		expected := o.Status
		at := o.Delivery
		o.Status = model.DroneOrderStatusDelivered
		o.ActualDeliveryTime = &now
		o.CurrentLocation = &at

		var err error
		if out, err = s.droneOrders.Save(ctx, o, expected); err != nil {
			return translate(err)
		}
		if err := s.orders.SetStatus(ctx, o.OrderID, model.OrderStatusDelivered, "drone delivery confirmed by QR code"); err != nil {
			return translate(err)
		}
		if _, err := s.assignments.ReleaseByOrder(ctx, o.OrderID, "delivered"); err != nil {
			return fmt.Errorf("release assignment: %w", err)
		}
		if o.DroneID == nil {
			return nil
		}
		return s.sendHome(ctx, *o.DroneID)
	})
	record("verify_qr", err)
	if err != nil {
		return nil, err
	}

	s.notifyUser(ctx, "verify_qr", out.UserID, alertFor(model.NotificationSuccess, "Order delivered",
		"Your drone delivery has been confirmed", orderID, out.DroneID))
	s.notifyAdmins(ctx, "verify_qr", alertFor(model.NotificationInfo, "Drone delivery completed",
		fmt.Sprintf("Order %d was delivered", orderID), orderID, out.DroneID))
	s.publish(ctx, "verify_qr", events.DroneUpdate{
		Type:    events.TypeDelivered,
		OrderID: orderID,
		DroneID: deref(out.DroneID),
		Status:  string(out.Status),
		Order:   out,
	}, events.OrderRoom(orderID), droneRoom(out.DroneID), events.AdminsRoom)

	return out, nil
}

// CallDroneToShop sends an idle drone with enough battery to the shop of a
// ready drone order.
func (s *DispatchService) CallDroneToShop(ctx context.Context, orderID, shopID int64, shopLocation *model.Location) (*model.DroneOrder, error) {
	a, err := actor(ctx, auth.KindSeller)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, translate(err)
	}
	if !a.IsSeller(order.SellerID) || order.ShopID != shopID {
		return nil, ErrForbidden
	}
	if order.DeliveryType != model.DeliveryTypeDrone {
		return nil, ErrNotDroneDelivery
	}
	if order.ShopStatus != model.ShopStatusReady {
		return nil, ErrNotReadyForPickup
	}
	dest := order.Pickup
	if shopLocation != nil {
		dest = *shopLocation
	}

	var out *model.DroneOrder
	var drone *model.Drone
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		o, err := s.droneOrders.GetByOrderIDForUpdate(ctx, orderID)
		if err != nil {
			return translate(err)
		}
		if o.Status.Terminal() {
			return ErrDroneOrderTerminal
		}
		if !o.Status.Assignable() {
			return ErrInvalidTransition.WithMessage(fmt.Sprintf("cannot call a drone for a drone order in status %s", o.Status))
		}
		if err := s.ensureUnassigned(ctx, orderID); err != nil {
			return err
		}

		minBattery := s.cfg.PickupMinBattery
		d, err := s.drones.ClaimIdle(ctx, repository.ClaimRequest{
			MinBattery:  &minBattery,
			Status:      model.DroneStatusEnRouteToShop,
			Destination: &dest,
		})
		if errors.Is(err, repository.ErrNoIdleDrone) || errors.Is(err, repository.ErrMaxRetriesExceeded) {
			return ErrNoDroneForPickup.With(err)
		}
		if err != nil {
			return err
		}
		if _, err := s.assignments.Upsert(ctx, orderID, d.DroneID, "called to shop by seller"); err != nil {
			return fmt.Errorf("upsert assignment: %w", err)
		}

		expected := o.Status
		o.Status = model.DroneOrderStatusDroneEnRouteToShop
		o.DroneID = &d.DroneID
		if out, err = s.droneOrders.Save(ctx, o, expected); err != nil {
			return translate(err)
		}
		drone = d
		return nil
	})
	record("call_to_shop", err)
	if err != nil {
		return nil, err
	}

	s.notifyUserAndAdmins(ctx, "call_to_shop", out.UserID, alertFor(model.NotificationInfo, "Drone on the way to the shop",
		fmt.Sprintf("Drone %s is flying to the shop to pick up your order", drone.DroneID), orderID, out.DroneID))
	s.publish(ctx, "call_to_shop", events.DroneUpdate{
		Type:    events.TypeEnRouteToShop,
		OrderID: orderID,
		DroneID: drone.DroneID,
		Status:  string(out.Status),
		Drone:   drone,
		Order:   out,
		Data:    dest,
	}, events.OrderRoom(orderID), events.DroneRoom(drone.DroneID), events.AdminsRoom)

	return out, nil
}

// Cancel ends a drone delivery for its user, its seller or an admin. A drone
// still on the ground goes back to idle, an airborne one returns to base.
func (s *DispatchService) Cancel(ctx context.Context, droneOrderID int64, reason string) (*model.DroneOrder, error) {
	a, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	o, err := s.droneOrders.Get(ctx, droneOrderID)
	if err != nil {
		return nil, translate(err)
	}
	if !a.IsAdmin() && !a.IsUser(o.UserID) && !a.IsSeller(o.SellerID) {
		return nil, ErrForbidden
	}
	if o.Status.Terminal() {
		return nil, ErrDroneOrderTerminal
	}

	var out *model.DroneOrder
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		expected := o.Status
		by := a.CancelledBy()
		o.Status = model.DroneOrderStatusCancelled
		o.CancelledBy = &by
		o.CancellationReason = reason

		var err error
		if out, err = s.droneOrders.Save(ctx, o, expected); err != nil {
			return translate(err)
		}
		if o.DroneID == nil {
			return nil
		}
		if _, err := s.assignments.ReleaseByOrder(ctx, o.OrderID, "cancelled by "+string(by)); err != nil {
			return fmt.Errorf("release assignment: %w", err)
		}
		return s.sendHome(ctx, *o.DroneID)
	})
	record("cancel", err)
	if err != nil {
		return nil, err
	}

	s.notifyUserAndAdmins(ctx, "cancel", out.UserID, alertFor(model.NotificationWarning, "Drone delivery cancelled",
		cancelMessage(out), out.OrderID, out.DroneID))
	s.publish(ctx, "cancel", events.DroneUpdate{
		Type:    events.TypeStatus,
		OrderID: out.OrderID,
		DroneID: deref(out.DroneID),
		Status:  string(out.Status),
		Order:   out,
	}, events.OrderRoom(out.OrderID), droneRoom(out.DroneID), events.AdminsRoom)

	return out, nil
}

// sendHome frees a drone whose order ended. A drone still on the ground
// becomes idle, an airborne one returns to base.
func (s *DispatchService) sendHome(ctx context.Context, droneID string) error {
	return sendHome(ctx, s.drones, droneID)
}

func sendHome(ctx context.Context, drones DroneRepository, droneID string) error {
	d, err := drones.Get(ctx, droneID)
	if errors.Is(err, repository.ErrDroneNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	switch {
	case d.Status.Airborne():
		status := model.DroneStatusReturning
		_, err = drones.Update(ctx, droneID, model.DroneUpdate{Status: &status})
	case d.Status == model.DroneStatusAssigned:
		err = drones.Release(ctx, droneID)
	}
	return translate(err)
}

func (s *DispatchService) ensureUnassigned(ctx context.Context, orderID int64) error {
	_, err := s.assignments.GetActiveByOrder(ctx, orderID)
	switch {
	case err == nil:
		return ErrAlreadyAssigned
	case errors.Is(err, repository.ErrAssignmentNotFound):
		return nil
	}
	return fmt.Errorf("load assignment: %w", err)
}

func (s *DispatchService) activeOrder(ctx context.Context, droneID string) *model.DroneOrder {
	o, err := s.droneOrders.FindActiveByDrone(ctx, droneID)
	if err != nil {
		if !errors.Is(err, repository.ErrDroneOrderNotFound) {
			logger.Warn("failed to load active drone order", "drone_id", droneID, "error", err)
		}
		return nil
	}
	return o
}

func cancelMessage(o *model.DroneOrder) string {
	if o.CancellationReason != "" {
		return "Drone delivery was cancelled: " + o.CancellationReason
	}
	return "Drone delivery was cancelled"
}

func record(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	prom.IncDispatchOperation(op, outcome)
}

func point(l model.Location) geo.Point {
	return geo.Point{Lat: l.Lat, Lng: l.Lng}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
