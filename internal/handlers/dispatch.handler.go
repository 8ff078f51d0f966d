package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/internal/services"
	xhttp "github.com/nimasrn/drone-dispatch/pkg/http"
)

type DispatchService interface {
	Assign(ctx context.Context, orderID int64) (*model.DroneOrder, error)
	Launch(ctx context.Context, orderID int64) (*services.LaunchResult, error)
	Land(ctx context.Context, droneID string) (*model.Drone, error)
	Return(ctx context.Context, droneID string) (*model.Drone, error)
	EmergencyStop(ctx context.Context, droneID string) (*model.Drone, error)
	GetStatus(ctx context.Context, droneID string) (*services.DroneStatusView, error)
	GetStatusByOrder(ctx context.Context, orderID int64) (*services.DroneStatusView, error)
	VerifyQrDelivery(ctx context.Context, orderID int64, code string) (*model.DroneOrder, error)
	CallDroneToShop(ctx context.Context, orderID, shopID int64, shopLocation *model.Location) (*model.DroneOrder, error)
	Cancel(ctx context.Context, droneOrderID int64, reason string) (*model.DroneOrder, error)
}

type DispatchHandler struct {
	svc DispatchService
}

func RegisterDispatchRoutes(e *router.Group, h *DispatchHandler) {
	e.POST("/drone-orders/verify-qr", h.VerifyQr)
	e.POST("/drone-orders/{id}/cancel", h.Cancel)
	e.POST("/drone-orders/{id}/call-drone", h.CallDrone)
	e.GET("/drone-orders/{id}/drone", h.DroneByOrder)

	e.POST("/admin/dispatch/{orderId}/assign", h.Assign)
	e.POST("/admin/dispatch/{orderId}/launch", h.Launch)
	e.GET("/admin/drones/{droneId}", h.DroneStatus)
	e.POST("/admin/drones/{droneId}/land", h.Land)
	e.POST("/admin/drones/{droneId}/return", h.Return)
	e.POST("/admin/drones/{droneId}/emergency-stop", h.EmergencyStop)
}

func NewDispatchHandler(svc DispatchService) *DispatchHandler {
	return &DispatchHandler{svc: svc}
}

type verifyQrRequest struct {
	OrderID int64  `json:"order_id"`
	QRCode  string `json:"qr_code"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type callDroneRequest struct {
	ShopID       int64           `json:"shop_id"`
	ShopLocation *model.Location `json:"shop_location,omitempty"`
}

func (h *DispatchHandler) Assign(ctx *xhttp.RequestCtx) {
	orderID, ok := pathInt64(ctx, "orderId")
	if !ok {
		return
	}
	o, err := h.svc.Assign(requestContext(ctx), orderID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, o)
}

// Launch answers 200 both for a launched drone and for a fallback to
// regular delivery, the body tells them apart.
func (h *DispatchHandler) Launch(ctx *xhttp.RequestCtx) {
	orderID, ok := pathInt64(ctx, "orderId")
	if !ok {
		return
	}
	res, err := h.svc.Launch(requestContext(ctx), orderID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, res)
}

func (h *DispatchHandler) Land(ctx *xhttp.RequestCtx) {
	h.moveDrone(ctx, h.svc.Land)
}

func (h *DispatchHandler) Return(ctx *xhttp.RequestCtx) {
	h.moveDrone(ctx, h.svc.Return)
}

func (h *DispatchHandler) EmergencyStop(ctx *xhttp.RequestCtx) {
	h.moveDrone(ctx, h.svc.EmergencyStop)
}

func (h *DispatchHandler) moveDrone(ctx *xhttp.RequestCtx, fn func(context.Context, string) (*model.Drone, error)) {
	droneID, ok := pathString(ctx, "droneId")
	if !ok {
		return
	}
	d, err := fn(requestContext(ctx), droneID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, d)
}

func (h *DispatchHandler) DroneStatus(ctx *xhttp.RequestCtx) {
	droneID, ok := pathString(ctx, "droneId")
	if !ok {
		return
	}
	v, err := h.svc.GetStatus(requestContext(ctx), droneID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, v)
}

func (h *DispatchHandler) DroneByOrder(ctx *xhttp.RequestCtx) {
	orderID, ok := pathInt64(ctx, "id")
	if !ok {
		return
	}
	v, err := h.svc.GetStatusByOrder(requestContext(ctx), orderID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, v)
}

func (h *DispatchHandler) VerifyQr(ctx *xhttp.RequestCtx) {
	var req verifyQrRequest
	if err := readJSON(ctx, &req); err != nil {
		writeInvalidJSON(ctx, err)
		return
	}
	if req.OrderID <= 0 || req.QRCode == "" {
		writeError(ctx, services.Validation(errMissing("order_id and qr_code")))
		return
	}
	o, err := h.svc.VerifyQrDelivery(requestContext(ctx), req.OrderID, req.QRCode)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, o)
}

func (h *DispatchHandler) Cancel(ctx *xhttp.RequestCtx) {
	id, ok := pathInt64(ctx, "id")
	if !ok {
		return
	}
	var req cancelRequest
	if len(ctx.PostBody()) > 0 {
		if err := readJSON(ctx, &req); err != nil {
			writeInvalidJSON(ctx, err)
			return
		}
	}
	o, err := h.svc.Cancel(requestContext(ctx), id, req.Reason)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, o)
}

func (h *DispatchHandler) CallDrone(ctx *xhttp.RequestCtx) {
	orderID, ok := pathInt64(ctx, "id")
	if !ok {
		return
	}
	var req callDroneRequest
	if err := readJSON(ctx, &req); err != nil {
		writeInvalidJSON(ctx, err)
		return
	}
	o, err := h.svc.CallDroneToShop(requestContext(ctx), orderID, req.ShopID, req.ShopLocation)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, o)
}
