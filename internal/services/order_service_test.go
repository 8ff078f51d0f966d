package services

import (
	"context"
	"testing"

	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderService_CreateOrder(t *testing.T) {
	t.Run("drone delivery opens a drone order", func(t *testing.T) {
		h := newHarness(t)
		placed := h.placeDroneOrder(t)

		assert.Equal(t, model.DeliveryTypeDrone, placed.Order.DeliveryType)
		require.NotNil(t, placed.Order.DroneOrderID)
		assert.Equal(t, placed.DroneOrder.ID, *placed.Order.DroneOrderID)
		assert.Equal(t, userID, placed.Order.UserID)
		assert.Equal(t, model.ShopStatusPending, placed.Order.ShopStatus)
		assert.Equal(t, 1, h.weather.calls)
	})

	t.Run("regular delivery skips the weather", func(t *testing.T) {
		h := newHarness(t)
		order := placeRegularOrder(t, h)
		assert.Equal(t, model.DeliveryTypeRegular, order.DeliveryType)
		assert.Zero(t, h.weather.calls)
	})

	t.Run("users only", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.order.CreateOrder(asSeller(sellerID), model.OrderCreateRequest{})
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = h.order.CreateOrder(asUser(userID), model.OrderCreateRequest{ShopID: shopID, SellerID: sellerID, DeliveryType: model.DeliveryTypeDrone})
		assert.Equal(t, KindValidation, KindOf(err))
	})
}

func TestOrderService_UpdateShopStatus(t *testing.T) {
	h := newHarness(t)
	order := placeRegularOrder(t, h)

	got, err := h.order.UpdateShopStatus(asSeller(sellerID), order.ID, model.ShopStatusReady)
	require.NoError(t, err)
	assert.Equal(t, model.ShopStatusReady, got.ShopStatus)
	assert.Len(t, h.notifier.byTitle("Order ready"), 1)

	_, err = h.order.UpdateShopStatus(asSeller(sellerID+1), order.ID, model.ShopStatusReady)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = h.order.UpdateShopStatus(asSeller(sellerID), order.ID, "burnt")
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestOrderService_Handoff(t *testing.T) {
	t.Run("issue and verify", func(t *testing.T) {
		h := newHarness(t)
		order := placeRegularOrder(t, h)

		tok, err := h.order.IssueHandoffToken(asSeller(sellerID), order.ID)
		require.NoError(t, err)
		assert.NotEmpty(t, tok.Token)

		_, err = h.order.VerifyHandoff(asUser(otherID), tok.Token)
		assert.ErrorIs(t, err, ErrForbidden)

		got, err := h.order.VerifyHandoff(asUser(userID), tok.Token)
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusDelivered, got.Status)

		history, err := h.order.History(asUser(userID), order.ID)
		require.NoError(t, err)
		require.NotEmpty(t, history)
		assert.Equal(t, model.OrderStatusDelivered, history[len(history)-1].Status)

		_, err = h.order.VerifyHandoff(asUser(userID), tok.Token)
		assert.ErrorIs(t, err, ErrAlreadyDelivered)
	})

	t.Run("a reissued token replaces the old one", func(t *testing.T) {
		h := newHarness(t)
		order := placeRegularOrder(t, h)

		first, err := h.order.IssueHandoffToken(asSeller(sellerID), order.ID)
		require.NoError(t, err)
		_, err = h.order.IssueHandoffToken(asSeller(sellerID), order.ID)
		require.NoError(t, err)

		_, err = h.order.VerifyHandoff(asUser(userID), first.Token)
		assert.ErrorIs(t, err, ErrHandoffInvalid)
	})

	t.Run("garbage and drone orders", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.order.VerifyHandoff(asUser(userID), "garbage")
		assert.ErrorIs(t, err, ErrHandoffInvalid)

		placed := h.placeDroneOrder(t)
		_, err = h.order.IssueHandoffToken(asSeller(sellerID), placed.Order.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestOrderService_Parties(t *testing.T) {
	h := newHarness(t)
	order := placeRegularOrder(t, h)

	u, s, err := h.order.Parties(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, userID, u)
	assert.Equal(t, sellerID, s)

	_, _, err = h.order.Parties(context.Background(), 404)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
