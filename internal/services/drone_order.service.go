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
)

const exportPageSize = 500

// DroneOrderService owns drone order records outside of flight control.
type DroneOrderService struct {
	tx          Transactor
	drones      DroneRepository
	droneOrders DroneOrderRepository
	assignments AssignmentRepository
	orders      OrderRepository
	weather     WeatherGate
	issuer      *qr.Issuer
	effects
	now func() time.Time
}

func NewDroneOrderService(d Dependencies) *DroneOrderService {
	return &DroneOrderService{
		tx:          d.Tx,
		drones:      d.Drones,
		droneOrders: d.DroneOrders,
		assignments: d.Assignments,
		orders:      d.Orders,
		weather:     d.Weather,
		issuer:      d.Issuer,
		effects:     newEffects(d.Notifier, d.Publisher),
		now:         time.Now,
	}
}

// Create opens a drone delivery for an order of the calling user. The
// weather at the delivery point decides between pending and weather_blocked.
func (s *DroneOrderService) Create(ctx context.Context, req model.DroneOrderCreateRequest) (*model.DroneOrder, error) {
	a, err := actor(ctx, auth.KindUser)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, Validation(err)
	}

	order, err := s.orders.Get(ctx, req.OrderID)
	if err != nil {
		return nil, translate(err)
	}
	if !a.IsUser(order.UserID) {
		return nil, ErrForbidden
	}
	if order.Status == model.OrderStatusDelivered || order.Status == model.OrderStatusCancelled {
		return nil, ErrInvalidTransition.WithMessage(fmt.Sprintf("order is %s", order.Status))
	}
	if _, err := s.droneOrders.GetByOrderID(ctx, order.ID); err == nil {
		return nil, ErrDroneOrderExists
	} else if !errors.Is(err, repository.ErrDroneOrderNotFound) {
		return nil, err
	}

	w := s.weather.Check(ctx, req.Delivery)
	var out *model.DroneOrder
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		out, err = s.open(ctx, order, req, w)
		return err
	})
	record("create", err)
	if err != nil {
		return nil, err
	}

	s.announce(ctx, out)
	return out, nil
}

// open writes the drone order and points the order at it, callers run it
// inside a transaction.
func (s *DroneOrderService) open(ctx context.Context, order *model.Order, req model.DroneOrderCreateRequest, w model.WeatherCheck) (*model.DroneOrder, error) {
	code, err := s.issuer.Issue(order.ID, order.UserID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("issue qr code: %w", err)
	}

	status := model.DroneOrderStatusPending
	if w.Failed() || !w.IsSafe {
		status = model.DroneOrderStatusWeatherBlocked
	}

	o, err := s.droneOrders.Create(ctx, &model.DroneOrder{
		OrderID:         order.ID,
		UserID:          order.UserID,
		SellerID:        order.SellerID,
		QRCode:          code.Value,
		QRExpiresAt:     &code.ExpiresAt,
		Status:          status,
		WeatherCheck:    &w,
		Pickup:          req.Pickup,
		Delivery:        req.Delivery,
		DeliveryAddress: req.DeliveryAddress,
	})
	if err != nil {
		return nil, translate(err)
	}
	if err := s.orders.SwitchToDrone(ctx, order.ID, o.ID); err != nil {
		return nil, translate(err)
	}
	return o, nil
}

func (s *DroneOrderService) announce(ctx context.Context, o *model.DroneOrder) {
	if o.Status == model.DroneOrderStatusWeatherBlocked {
		s.notifyUser(ctx, "create", o.UserID, alertFor(model.NotificationWarning, "Drone delivery on hold",
			"Weather conditions do not allow drone delivery right now", o.OrderID, nil))
	}
	s.notifyAdmins(ctx, "create", alertFor(model.NotificationInfo, "New drone order",
		fmt.Sprintf("Order %d requested drone delivery", o.OrderID), o.OrderID, nil))
	s.publish(ctx, "create", events.DroneUpdate{
		Type:    events.TypeCreated,
		OrderID: o.OrderID,
		Status:  string(o.Status),
		Order:   o,
	}, events.OrderRoom(o.OrderID), events.AdminsRoom)
}

// GetStatus returns the drone order of an order with the order attached.
func (s *DroneOrderService) GetStatus(ctx context.Context, orderID int64) (*model.DroneOrder, error) {
	a, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	o, err := s.droneOrders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, translate(err)
	}
	if !canView(a, o) {
		return nil, ErrForbidden
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, translate(err)
	}
	o.Order = order
	return o, nil
}

// UpdateStatus lets the order's seller or an admin move a drone order by
// hand. Admins may also bind a drone.
func (s *DroneOrderService) UpdateStatus(ctx context.Context, id int64, req model.DroneOrderStatusUpdate) (*model.DroneOrder, error) {
	a, err := actor(ctx, auth.KindSeller, auth.KindAdmin)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, Validation(err)
	}

	o, err := s.droneOrders.Get(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	if !a.IsAdmin() && !a.IsSeller(o.SellerID) {
		return nil, ErrForbidden
	}
	if req.DroneID != nil && !a.IsAdmin() {
		return nil, ErrForbidden
	}
	if o.Status.Terminal() {
		return nil, ErrDroneOrderTerminal
	}

	var out *model.DroneOrder
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		expected := o.Status
		o.Status = req.Status
		if req.Notes != "" {
			o.AdminNotes = appendNote(o.AdminNotes, req.Notes)
		}
		switch req.Status {
		case model.DroneOrderStatusCancelled:
			by := a.CancelledBy()
			o.CancelledBy = &by
			o.CancellationReason = req.Notes
		case model.DroneOrderStatusDelivered:
			now := s.now().UTC()
			o.ActualDeliveryTime = &now
		}
		if req.DroneID != nil && *req.DroneID != "" && deref(o.DroneID) != *req.DroneID {
			previous := deref(o.DroneID)
			pickup := o.Pickup
			d, err := s.drones.ClaimByID(ctx, *req.DroneID, repository.ClaimRequest{
				Status:      model.DroneStatusAssigned,
				Destination: &pickup,
			})
			if err != nil {
				return translate(err)
			}
			o.DroneID = &d.DroneID
			if _, err := s.assignments.Upsert(ctx, o.OrderID, d.DroneID, "set by admin"); err != nil {
				return fmt.Errorf("upsert assignment: %w", err)
			}
			if previous != "" {
				if err := sendHome(ctx, s.drones, previous); err != nil {
					return err
				}
			}
		}

		var err error
		if out, err = s.droneOrders.Save(ctx, o, expected); err != nil {
			return translate(err)
		}
		if out.Status.Terminal() {
			if _, err := s.assignments.ReleaseByOrder(ctx, out.OrderID, "drone order "+string(out.Status)); err != nil {
				return fmt.Errorf("release assignment: %w", err)
			}
			if out.DroneID != nil {
				if err := sendHome(ctx, s.drones, *out.DroneID); err != nil {
					return err
				}
			}
		}
		if out.Status == model.DroneOrderStatusDelivered {
			return translate(s.orders.SetStatus(ctx, out.OrderID, model.OrderStatusDelivered, "drone delivery marked delivered"))
		}
		return nil
	})
	record("update_status", err)
	if err != nil {
		return nil, err
	}

	s.notifyUser(ctx, "update_status", out.UserID, alertFor(model.NotificationInfo, "Drone delivery updated",
		fmt.Sprintf("Your drone delivery is now %s", out.Status), out.OrderID, out.DroneID))
	s.publish(ctx, "update_status", events.DroneUpdate{
		Type:    events.TypeStatus,
		OrderID: out.OrderID,
		DroneID: deref(out.DroneID),
		Status:  string(out.Status),
		Order:   out,
	}, events.OrderRoom(out.OrderID), droneRoom(out.DroneID), events.AdminsRoom)

	return out, nil
}

// List returns drone orders for admins. Sellers and users only see their own.
func (s *DroneOrderService) List(ctx context.Context, f model.DroneOrderFilter) ([]*model.DroneOrder, int64, error) {
	a, err := actor(ctx)
	if err != nil {
		return nil, 0, err
	}
	switch a.Kind {
	case auth.KindUser:
		f.UserID = &a.ID
	case auth.KindSeller:
		f.SellerID = &a.ID
	case auth.KindSystem:
		return nil, 0, ErrForbidden
	}
	return s.droneOrders.List(ctx, f)
}

// QRImage renders the drone order code of the order as a PNG for its user.
func (s *DroneOrderService) QRImage(ctx context.Context, orderID int64, size int) ([]byte, error) {
	a, err := actor(ctx, auth.KindUser, auth.KindAdmin)
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
	if o.Status.Terminal() {
		return nil, ErrDroneOrderTerminal
	}
	return qr.PNG(o.QRCode, size)
}

// Page lists one page of every drone order matching f, admins only.
func (s *DroneOrderService) Page(ctx context.Context, f model.DroneOrderFilter) ([]*model.DroneOrder, int64, error) {
	if _, err := actor(ctx, auth.KindAdmin); err != nil {
		return nil, 0, err
	}
	return s.droneOrders.List(ctx, f)
}

// All pages through every drone order matching f, admins only.
func (s *DroneOrderService) All(ctx context.Context, f model.DroneOrderFilter) ([]*model.DroneOrder, error) {
	if _, err := actor(ctx, auth.KindAdmin); err != nil {
		return nil, err
	}
	f.Limit = exportPageSize
	f.Offset = 0

	var out []*model.DroneOrder
	for {
		page, total, err := s.droneOrders.List(ctx, f)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		f.Offset += len(page)
		if len(page) == 0 || int64(f.Offset) >= total {
			return out, nil
		}
	}
}

func canView(a auth.Actor, o *model.DroneOrder) bool {
	return a.IsAdmin() || a.IsUser(o.UserID) || a.IsSeller(o.SellerID)
}

func appendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}
