package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/nimasrn/drone-dispatch/internal/model"
	xhttp "github.com/nimasrn/drone-dispatch/pkg/http"
)

type FleetService interface {
	Register(ctx context.Context, req model.DroneRegisterRequest) (*model.Drone, error)
	List(ctx context.Context, f model.DroneFilter) ([]*model.Drone, int64, error)
	Update(ctx context.Context, droneID string, u model.DroneUpdate) (*model.Drone, error)
}

type FleetHandler struct {
	svc FleetService
}

func RegisterFleetRoutes(e *router.Group, h *FleetHandler) {
	e.GET("/admin/drones", h.List)
	e.POST("/admin/drones", h.Register)
	e.PATCH("/admin/drones/{droneId}", h.Update)
}

func NewFleetHandler(svc FleetService) *FleetHandler {
	return &FleetHandler{svc: svc}
}

func (h *FleetHandler) Register(ctx *xhttp.RequestCtx) {
	var req model.DroneRegisterRequest
	if err := readJSON(ctx, &req); err != nil {
		writeInvalidJSON(ctx, err)
		return
	}
	d, err := h.svc.Register(requestContext(ctx), req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, d)
}

func (h *FleetHandler) List(ctx *xhttp.RequestCtx) {
	items, total, err := h.svc.List(requestContext(ctx), droneFilter(ctx))
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, listResponse[*model.Drone]{Items: items, Total: total})
}

func (h *FleetHandler) Update(ctx *xhttp.RequestCtx) {
	droneID, ok := pathString(ctx, "droneId")
	if !ok {
		return
	}
	var u model.DroneUpdate
	if err := readJSON(ctx, &u); err != nil {
		writeInvalidJSON(ctx, err)
		return
	}
	d, err := h.svc.Update(requestContext(ctx), droneID, u)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, d)
}
