package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/internal/services"
	xhttp "github.com/nimasrn/drone-dispatch/pkg/http"
)

type OrderService interface {
	CreateOrder(ctx context.Context, req model.OrderCreateRequest) (*services.PlacedOrder, error)
	UpdateShopStatus(ctx context.Context, orderID int64, status model.ShopStatus) (*model.Order, error)
	IssueHandoffToken(ctx context.Context, orderID int64) (*services.HandoffToken, error)
	VerifyHandoff(ctx context.Context, token string) (*model.Order, error)
	History(ctx context.Context, orderID int64) ([]*model.OrderStatusHistory, error)
}

type OrderHandler struct {
	svc OrderService
}

func RegisterOrderRoutes(e *router.Group, h *OrderHandler) {
	e.POST("/orders", h.CreateOrder)
	e.POST("/orders/handoff/verify", h.VerifyHandoff)
	e.PATCH("/orders/{orderId}/shop-status", h.UpdateShopStatus)
	e.POST("/orders/{orderId}/handoff-token", h.IssueHandoffToken)
	e.GET("/orders/{orderId}/history", h.History)
}

func NewOrderHandler(svc OrderService) *OrderHandler {
	return &OrderHandler{svc: svc}
}

type shopStatusRequest struct {
	ShopStatus model.ShopStatus `json:"shop_status"`
}

type handoffVerifyRequest struct {
	Token string `json:"token"`
}

func (h *OrderHandler) CreateOrder(ctx *xhttp.RequestCtx) {
	var req model.OrderCreateRequest
	if err := readJSON(ctx, &req); err != nil {
		writeInvalidJSON(ctx, err)
		return
	}
	placed, err := h.svc.CreateOrder(requestContext(ctx), req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, placed)
}

func (h *OrderHandler) UpdateShopStatus(ctx *xhttp.RequestCtx) {
	orderID, ok := pathInt64(ctx, "orderId")
	if !ok {
		return
	}
	var req shopStatusRequest
	if err := readJSON(ctx, &req); err != nil {
		writeInvalidJSON(ctx, err)
		return
	}
	o, err := h.svc.UpdateShopStatus(requestContext(ctx), orderID, req.ShopStatus)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, o)
}

func (h *OrderHandler) IssueHandoffToken(ctx *xhttp.RequestCtx) {
	orderID, ok := pathInt64(ctx, "orderId")
	if !ok {
		return
	}
	tok, err := h.svc.IssueHandoffToken(requestContext(ctx), orderID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, tok)
}

func (h *OrderHandler) VerifyHandoff(ctx *xhttp.RequestCtx) {
	var req handoffVerifyRequest
	if err := readJSON(ctx, &req); err != nil {
		writeInvalidJSON(ctx, err)
		return
	}
	o, err := h.svc.VerifyHandoff(requestContext(ctx), req.Token)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, o)
}

func (h *OrderHandler) History(ctx *xhttp.RequestCtx) {
	orderID, ok := pathInt64(ctx, "orderId")
	if !ok {
		return
	}
	items, err := h.svc.History(requestContext(ctx), orderID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, listResponse[*model.OrderStatusHistory]{Items: items, Total: int64(len(items))})
}
