package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/fasthttp/router"
	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/internal/report"
	xhttp "github.com/nimasrn/drone-dispatch/pkg/http"
)

const (
	defaultQRSize = 256
	maxQRSize     = 1024
)

type DroneOrderService interface {
	Create(ctx context.Context, req model.DroneOrderCreateRequest) (*model.DroneOrder, error)
	GetStatus(ctx context.Context, orderID int64) (*model.DroneOrder, error)
	UpdateStatus(ctx context.Context, id int64, req model.DroneOrderStatusUpdate) (*model.DroneOrder, error)
	List(ctx context.Context, f model.DroneOrderFilter) ([]*model.DroneOrder, int64, error)
	QRImage(ctx context.Context, orderID int64, size int) ([]byte, error)
	Page(ctx context.Context, f model.DroneOrderFilter) ([]*model.DroneOrder, int64, error)
	All(ctx context.Context, f model.DroneOrderFilter) ([]*model.DroneOrder, error)
}

type DroneOrderHandler struct {
	svc DroneOrderService
	now func() time.Time
}

// Drone order routes share the {id} segment, it names the order id on reads
// and the drone order id on writes.
func RegisterDroneOrderRoutes(e *router.Group, h *DroneOrderHandler) {
	e.POST("/drone-orders", h.Create)
	e.GET("/drone-orders", h.List)
	e.GET("/drone-orders/{id}", h.GetStatus)
	e.GET("/drone-orders/{id}/qr.png", h.QRImage)
	e.PATCH("/drone-orders/{id}/status", h.UpdateStatus)
	e.GET("/admin/drone-orders", h.ListAll)
	e.GET("/admin/drone-orders/export", h.Export)
}

func NewDroneOrderHandler(svc DroneOrderService) *DroneOrderHandler {
	return &DroneOrderHandler{svc: svc, now: time.Now}
}

func (h *DroneOrderHandler) Create(ctx *xhttp.RequestCtx) {
	var req model.DroneOrderCreateRequest
	if err := readJSON(ctx, &req); err != nil {
		writeInvalidJSON(ctx, err)
		return
	}
	o, err := h.svc.Create(requestContext(ctx), req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, o)
}

func (h *DroneOrderHandler) GetStatus(ctx *xhttp.RequestCtx) {
	orderID, ok := pathInt64(ctx, "id")
	if !ok {
		return
	}
	o, err := h.svc.GetStatus(requestContext(ctx), orderID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, o)
}

func (h *DroneOrderHandler) QRImage(ctx *xhttp.RequestCtx) {
	orderID, ok := pathInt64(ctx, "id")
	if !ok {
		return
	}
	size := defaultQRSize
	if v := query(ctx, "size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxQRSize {
			writeMessage(ctx, xhttp.StatusBadRequest, "invalid size")
			return
		}
		size = n
	}
	png, err := h.svc.QRImage(requestContext(ctx), orderID, size)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.Response.Header.Set("Content-Type", "image/png")
	ctx.Response.Header.Set("Cache-Control", "no-store")
	ctx.Response.SetStatusCode(xhttp.StatusOK)
	ctx.Response.SetBodyRaw(png)
}

func (h *DroneOrderHandler) UpdateStatus(ctx *xhttp.RequestCtx) {
	id, ok := pathInt64(ctx, "id")
	if !ok {
		return
	}
	var req model.DroneOrderStatusUpdate
	if err := readJSON(ctx, &req); err != nil {
		writeInvalidJSON(ctx, err)
		return
	}
	o, err := h.svc.UpdateStatus(requestContext(ctx), id, req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, o)
}

// List returns the caller's own drone orders.
func (h *DroneOrderHandler) List(ctx *xhttp.RequestCtx) {
	items, total, err := h.svc.List(requestContext(ctx), droneOrderFilter(ctx))
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, listResponse[*model.DroneOrder]{Items: items, Total: total})
}

func (h *DroneOrderHandler) ListAll(ctx *xhttp.RequestCtx) {
	items, total, err := h.svc.Page(requestContext(ctx), droneOrderFilter(ctx))
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, listResponse[*model.DroneOrder]{Items: items, Total: total})
}

func (h *DroneOrderHandler) Export(ctx *xhttp.RequestCtx) {
	items, err := h.svc.All(requestContext(ctx), droneOrderFilter(ctx))
	if err != nil {
		writeError(ctx, err)
		return
	}
	body, err := report.DroneOrdersBytes(items)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.Response.Header.Set("Content-Type", report.ContentType)
	ctx.Response.Header.Set("Content-Disposition", `attachment; filename="`+report.FileName(h.now())+`"`)
	ctx.Response.SetStatusCode(xhttp.StatusOK)
	ctx.Response.SetBodyRaw(body)
}
