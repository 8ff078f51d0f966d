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
)

// OrderService covers the parts of the order lifecycle dispatch depends on:
// placement, shop preparation and the regular-delivery handoff.
type OrderService struct {
	tx         Transactor
	orders     OrderRepository
	weather    WeatherGate
	issuer     *qr.Issuer
	droneOrder *DroneOrderService
	effects
}

func NewOrderService(d Dependencies, droneOrders *DroneOrderService) *OrderService {
	return &OrderService{
		tx:         d.Tx,
		orders:     d.Orders,
		weather:    d.Weather,
		issuer:     d.Issuer,
		droneOrder: droneOrders,
		effects:    newEffects(d.Notifier, d.Publisher),
	}
}

// PlacedOrder is an order with the drone order opened alongside it.
type PlacedOrder struct {
	Order      *model.Order      `json:"order"`
	DroneOrder *model.DroneOrder `json:"drone_order,omitempty"`
}

// HandoffToken is shown by the courier of a regular delivery.
type HandoffToken struct {
	OrderID   int64     `json:"order_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateOrder places an order for the calling user. A drone delivery opens
// its drone order in the same transaction.
func (s *OrderService) CreateOrder(ctx context.Context, req model.OrderCreateRequest) (*PlacedOrder, error) {
	a, err := actor(ctx, auth.KindUser)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, Validation(err)
	}

	var w model.WeatherCheck
	drone := req.DeliveryType == model.DeliveryTypeDrone
	if drone {
		w = s.weather.Check(ctx, req.Delivery)
	}

	out := &PlacedOrder{}
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		order, err := s.orders.Create(ctx, &model.Order{
			UserID:       a.ID,
			SellerID:     req.SellerID,
			ShopID:       req.ShopID,
			ShopStatus:   model.ShopStatusPending,
			Status:       model.OrderStatusPlaced,
			DeliveryType: model.DeliveryTypeRegular,
			Pickup:       req.Pickup,
			Delivery:     req.Delivery,
			Address:      req.Address,
		})
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		out.Order = order
		if !drone {
			return nil
		}

		out.DroneOrder, err = s.droneOrder.open(ctx, order, model.DroneOrderCreateRequest{
			OrderID:         order.ID,
			Pickup:          req.Pickup,
			Delivery:        req.Delivery,
			DeliveryAddress: req.Address,
		}, w)
		if err != nil {
			return err
		}
		out.Order, err = s.orders.Get(ctx, order.ID)
		return translate(err)
	})
	record("create_order", err)
	if err != nil {
		return nil, err
	}

	if out.DroneOrder != nil {
		s.droneOrder.announce(ctx, out.DroneOrder)
	}
	return out, nil
}

// UpdateShopStatus moves the preparation state of one of the seller's orders.
func (s *OrderService) UpdateShopStatus(ctx context.Context, orderID int64, status model.ShopStatus) (*model.Order, error) {
	a, err := actor(ctx, auth.KindSeller)
	if err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, Validation(errors.New("invalid shop status"))
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, translate(err)
	}
	if !a.IsSeller(order.SellerID) {
		return nil, ErrForbidden
	}
	if err := s.orders.UpdateShopStatus(ctx, orderID, status); err != nil {
		return nil, translate(err)
	}
	order.ShopStatus = status

	if status == model.ShopStatusReady {
		s.notifyUser(ctx, "shop_status", order.UserID, alertFor(model.NotificationInfo, "Order ready",
			"The shop has prepared your order", orderID, nil))
	}
	s.publish(ctx, "shop_status", events.DroneUpdate{
		Type:    events.TypeStatus,
		OrderID: orderID,
		Status:  string(status),
		Order:   order,
	}, events.OrderRoom(orderID))
	return order, nil
}

// IssueHandoffToken signs a token the user confirms a regular delivery with.
func (s *OrderService) IssueHandoffToken(ctx context.Context, orderID int64) (*HandoffToken, error) {
	a, err := actor(ctx, auth.KindSeller, auth.KindAdmin)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, translate(err)
	}
	if !a.IsAdmin() && !a.IsSeller(order.SellerID) {
		return nil, ErrForbidden
	}
	if order.DeliveryType != model.DeliveryTypeRegular {
		return nil, ErrInvalidTransition.WithMessage("order is a drone delivery")
	}
	if order.Status == model.OrderStatusDelivered {
		return nil, ErrAlreadyDelivered
	}

	tok, exp, err := s.issuer.IssueHandoff(order.ID, order.UserID)
	if err != nil {
		return nil, fmt.Errorf("issue handoff token: %w", err)
	}
	if err := s.orders.SetHandoffToken(ctx, order.ID, tok); err != nil {
		return nil, translate(err)
	}
	return &HandoffToken{OrderID: order.ID, Token: tok, ExpiresAt: exp}, nil
}

// VerifyHandoff confirms a regular delivery for the user the token names.
func (s *OrderService) VerifyHandoff(ctx context.Context, token string) (*model.Order, error) {
	a, err := actor(ctx, auth.KindUser)
	if err != nil {
		return nil, err
	}
	orderID, userID, err := s.issuer.VerifyHandoff(token)
	switch {
	case errors.Is(err, qr.ErrExpired):
		return nil, ErrHandoffExpired
	case err != nil:
		return nil, ErrHandoffInvalid.With(err)
	}
	if !a.IsUser(userID) {
		return nil, ErrForbidden
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, translate(err)
	}
	if order.Status == model.OrderStatusDelivered {
		return nil, ErrAlreadyDelivered
	}
	if order.HandoffToken == "" || order.HandoffToken != token {
		return nil, ErrHandoffInvalid
	}

	if err := s.orders.SetStatus(ctx, orderID, model.OrderStatusDelivered, "handoff confirmed by user"); err != nil {
		return nil, translate(err)
	}
	record("verify_handoff", nil)
	order.Status = model.OrderStatusDelivered
	order.HandoffToken = ""

	s.notifyUser(ctx, "verify_handoff", order.UserID, alertFor(model.NotificationSuccess, "Order delivered",
		"Your delivery has been confirmed", orderID, nil))
	s.publish(ctx, "verify_handoff", events.DroneUpdate{
		Type:    events.TypeDelivered,
		OrderID: orderID,
		Status:  string(order.Status),
		Order:   order,
	}, events.OrderRoom(orderID))
	return order, nil
}

// History returns the status log of an order its parties may see.
func (s *OrderService) History(ctx context.Context, orderID int64) ([]*model.OrderStatusHistory, error) {
	a, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, translate(err)
	}
	if !a.IsAdmin() && !a.IsUser(order.UserID) && !a.IsSeller(order.SellerID) {
		return nil, ErrForbidden
	}
	return s.orders.History(ctx, orderID)
}

// Parties resolves who may follow an order's realtime room.
func (s *OrderService) Parties(ctx context.Context, orderID int64) (int64, int64, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return 0, 0, translate(err)
	}
	return order.UserID, order.SellerID, nil
}
